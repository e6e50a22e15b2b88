// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator_test

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/wharfkeep/wharfkeep/core/database"
	"github.com/wharfkeep/wharfkeep/internal/engine"
	"github.com/wharfkeep/wharfkeep/internal/kubernetes"
	"github.com/wharfkeep/wharfkeep/internal/orchestrator"
)

const testNamespace = "testns"

type stubRemover struct {
	mu     sync.Mutex
	names  []string
	called chan string
}

func newStubRemover() *stubRemover {
	return &stubRemover{called: make(chan string, 4)}
}

func (r *stubRemover) DeleteAll(ctx context.Context, internalName string) error {
	r.mu.Lock()
	r.names = append(r.names, internalName)
	r.mu.Unlock()
	select {
	case r.called <- internalName:
	default:
	}
	return nil
}

type orchestratorSuite struct {
	clientset *fake.Clientset
	client    *kubernetes.Client
	remover   *stubRemover
	orc       *orchestrator.Orchestrator
}

var _ = gc.Suite(&orchestratorSuite{})

func (s *orchestratorSuite) SetUpTest(c *gc.C) {
	s.clientset = fake.NewSimpleClientset()
	s.client = kubernetes.NewClient(s.clientset, testNamespace)
	s.remover = newStubRemover()
	orc, err := orchestrator.New(orchestrator.Params{
		Client:    s.client,
		Clock:     clock.WallClock,
		Artifacts: s.remover,
		ObjectStore: orchestrator.ObjectStoreSettings{
			Endpoint:  "http://minio.example.com:9000",
			Region:    "us-east-1",
			Bucket:    "wharfkeep-backups",
			AccessKey: "access",
			SecretKey: "secret",
		},
		PasswordLength:        20,
		DefaultBackupSchedule: "0 3 * * *",
	})
	c.Assert(err, jc.ErrorIsNil)
	s.orc = orc
}

func (s *orchestratorSuite) createPostgres(c *gc.C) *database.Instance {
	inst, err := s.orc.Create(context.Background(), database.CreateArgs{
		Name:   "shop-db",
		Engine: database.EnginePostgres,
	})
	c.Assert(err, jc.ErrorIsNil)
	return inst
}

func (s *orchestratorSuite) TestNewValidatesParams(c *gc.C) {
	_, err := orchestrator.New(orchestrator.Params{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Assert(err, gc.ErrorMatches, "nil Client not valid")
}

func (s *orchestratorSuite) TestCreatePostgres(c *gc.C) {
	inst := s.createPostgres(c)

	c.Check(inst.Name, gc.Equals, "shop-db")
	c.Check(inst.Engine, gc.Equals, database.EnginePostgres)
	c.Check(inst.Version, gc.Equals, "16")
	c.Check(inst.Status, gc.Equals, database.StatusPending)
	c.Check(inst.Username, gc.Matches, "pguser_[a-z0-9]{8}")
	c.Check(inst.Password, gc.HasLen, 20)
	c.Check(inst.InternalName, gc.Equals, "shop_db")
	c.Check(inst.BackupSchedule, gc.Equals, "0 3 * * *")

	secret, err := s.client.GetSecret(context.Background(), "shop-db-secret")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(secret.Data["username"]), gc.Equals, inst.Username)
	c.Check(string(secret.Data["password"]), gc.Equals, inst.Password)
	c.Check(string(secret.Data["database"]), gc.Equals, "shop_db")
	c.Check(string(secret.Data["version"]), gc.Equals, "16")
	c.Check(string(secret.Data["backup-schedule"]), gc.Equals, "0 3 * * *")

	service, err := s.client.GetService(context.Background(), "shop-db-service")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(service.Spec.Type, gc.Equals, corev1.ServiceTypeClusterIP)
	c.Check(service.Spec.Selector, jc.DeepEquals, map[string]string{"app": "shop-db"})
	c.Assert(service.Spec.Ports, gc.HasLen, 1)
	c.Check(service.Spec.Ports[0].Port, gc.Equals, int32(5432))

	workload, err := s.client.GetStatefulSet(context.Background(), "shop-db-statefulset")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(workload.Labels, jc.DeepEquals, map[string]string{
		"app":                  "shop-db",
		"wharfkeep.io/managed": "true",
		"wharfkeep.io/engine":  "postgres",
	})
	c.Check(*workload.Spec.Replicas, gc.Equals, int32(1))
	c.Check(workload.Spec.ServiceName, gc.Equals, "shop-db-service")
	c.Check(workload.Spec.Selector.MatchLabels, jc.DeepEquals, map[string]string{"app": "shop-db"})
	c.Check(workload.Spec.Template.Labels, jc.DeepEquals, map[string]string{
		"app":                  "shop-db",
		"wharfkeep.io/managed": "true",
	})

	c.Assert(workload.Spec.Template.Spec.Containers, gc.HasLen, 1)
	container := workload.Spec.Template.Spec.Containers[0]
	c.Check(container.Name, gc.Equals, "postgres")
	c.Check(container.Image, gc.Equals, "postgres:16")
	c.Check(container.ReadinessProbe, gc.NotNil)
	c.Assert(container.Ports, gc.HasLen, 1)
	c.Check(container.Ports[0].ContainerPort, gc.Equals, int32(5432))
	c.Assert(container.Env, gc.Not(gc.HasLen), 0)
	c.Check(container.Env[0].Name, gc.Equals, "POSTGRES_USER")
	c.Check(container.Env[0].ValueFrom.SecretKeyRef.Name, gc.Equals, "shop-db-secret")

	c.Assert(workload.Spec.VolumeClaimTemplates, gc.HasLen, 1)
	claim := workload.Spec.VolumeClaimTemplates[0]
	c.Check(claim.Name, gc.Equals, "pgdata")
	quantity := claim.Spec.Resources.Requests[corev1.ResourceStorage]
	c.Check(quantity.String(), gc.Equals, "1Gi")
}

func (s *orchestratorSuite) TestCreatePostgresScheduledBackup(c *gc.C) {
	s.createPostgres(c)

	cronJob, err := s.client.GetCronJob(context.Background(), "shop-db-backup")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cronJob.Spec.Schedule, gc.Equals, "0 3 * * *")
	c.Check(cronJob.Spec.ConcurrencyPolicy, gc.Equals, batchv1.ForbidConcurrent)

	podSpec := cronJob.Spec.JobTemplate.Spec.Template.Spec
	c.Check(podSpec.RestartPolicy, gc.Equals, corev1.RestartPolicyOnFailure)
	c.Assert(podSpec.Containers, gc.HasLen, 1)
	container := podSpec.Containers[0]
	c.Check(container.Image, gc.Equals, "wharfkeep/postgres-backup:16")
	c.Assert(container.EnvFrom, gc.HasLen, 1)
	c.Check(container.EnvFrom[0].SecretRef.Name, gc.Equals, "wharfkeep-objectstore")
	c.Check(container.Env[0].Name, gc.Equals, "PGHOST")
	c.Check(container.Env[0].Value, gc.Equals, "shop-db-service")
}

func (s *orchestratorSuite) TestCreateEnsuresObjectStoreSecret(c *gc.C) {
	s.createPostgres(c)

	secret, err := s.client.GetSecret(context.Background(), "wharfkeep-objectstore")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(secret.Data, jc.DeepEquals, map[string][]byte{
		"S3_ENDPOINT":           []byte("http://minio.example.com:9000"),
		"S3_BUCKET":             []byte("wharfkeep-backups"),
		"AWS_ACCESS_KEY_ID":     []byte("access"),
		"AWS_SECRET_ACCESS_KEY": []byte("secret"),
		"AWS_DEFAULT_REGION":    []byte("us-east-1"),
	})
}

func (s *orchestratorSuite) TestCreateRedisHasNoScheduledBackup(c *gc.C) {
	inst, err := s.orc.Create(context.Background(), database.CreateArgs{
		Name:   "cache",
		Engine: database.EngineRedis,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(inst.Username, gc.Equals, "default")
	c.Check(inst.Version, gc.Equals, "7")

	_, err = s.client.GetCronJob(context.Background(), "cache-backup")
	c.Assert(err, jc.ErrorIs, errors.NotFound)

	workload, err := s.client.GetStatefulSet(context.Background(), "cache-statefulset")
	c.Assert(err, jc.ErrorIsNil)
	container := workload.Spec.Template.Spec.Containers[0]
	c.Check(container.Image, gc.Equals, "redis:7")
	c.Check(container.Args, jc.DeepEquals, []string{
		"redis-server", "--requirepass", "$(REDIS_PASSWORD)", "--dir", "/data",
	})
	c.Check(workload.Spec.VolumeClaimTemplates[0].Name, gc.Equals, "redisdata")
}

func (s *orchestratorSuite) TestCreateHonoursOverrides(c *gc.C) {
	_, err := s.orc.Create(context.Background(), database.CreateArgs{
		Name:           "shop-db",
		Engine:         database.EnginePostgres,
		Version:        "15.2",
		BackupSchedule: "30 2 * * *",
	})
	c.Assert(err, jc.ErrorIsNil)

	workload, err := s.client.GetStatefulSet(context.Background(), "shop-db-statefulset")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(workload.Spec.Template.Spec.Containers[0].Image, gc.Equals, "postgres:15.2")

	cronJob, err := s.client.GetCronJob(context.Background(), "shop-db-backup")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cronJob.Spec.Schedule, gc.Equals, "30 2 * * *")
	c.Check(cronJob.Spec.JobTemplate.Spec.Template.Spec.Containers[0].Image,
		gc.Equals, "wharfkeep/postgres-backup:15")
}

func (s *orchestratorSuite) TestCreateInvalidName(c *gc.C) {
	_, err := s.orc.Create(context.Background(), database.CreateArgs{
		Name:   "Shop_DB",
		Engine: database.EnginePostgres,
	})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *orchestratorSuite) TestCreateUnknownEngine(c *gc.C) {
	_, err := s.orc.Create(context.Background(), database.CreateArgs{
		Name:   "shop-db",
		Engine: database.Engine("mariadb"),
	})
	c.Assert(err, jc.ErrorIs, engine.ErrUnknown)
	c.Assert(err, gc.ErrorMatches, `unknown database engine "mariadb"`)
}

func (s *orchestratorSuite) TestCreateDuplicateName(c *gc.C) {
	s.createPostgres(c)

	_, err := s.orc.Create(context.Background(), database.CreateArgs{
		Name:   "shop-db",
		Engine: database.EngineRedis,
	})
	c.Assert(err, jc.ErrorIs, errors.AlreadyExists)
	c.Assert(err, gc.ErrorMatches, `database "shop-db" already exists`)

	// The first instance's resources are untouched.
	_, err = s.client.GetService(context.Background(), "shop-db-service")
	c.Assert(err, jc.ErrorIsNil)
	workload, err := s.client.GetStatefulSet(context.Background(), "shop-db-statefulset")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(workload.Labels["wharfkeep.io/engine"], gc.Equals, "postgres")
}

func (s *orchestratorSuite) TestCreateRollsBackOnWorkloadFailure(c *gc.C) {
	s.clientset.PrependReactor("create", "statefulsets",
		func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, errors.New("boom")
		})

	_, err := s.orc.Create(context.Background(), database.CreateArgs{
		Name:   "shop-db",
		Engine: database.EnginePostgres,
	})
	c.Assert(err, gc.ErrorMatches, "creating workload: boom")

	_, err = s.client.GetSecret(context.Background(), "shop-db-secret")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	_, err = s.client.GetService(context.Background(), "shop-db-service")
	c.Assert(err, jc.ErrorIs, errors.NotFound)

	// The shared object-store secret is not per-instance and stays.
	_, err = s.client.GetSecret(context.Background(), "wharfkeep-objectstore")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *orchestratorSuite) TestCreateRollsBackOnScheduledBackupFailure(c *gc.C) {
	s.clientset.PrependReactor("create", "cronjobs",
		func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, errors.New("boom")
		})

	_, err := s.orc.Create(context.Background(), database.CreateArgs{
		Name:   "shop-db",
		Engine: database.EnginePostgres,
	})
	c.Assert(err, gc.ErrorMatches, "creating scheduled backup: boom")

	_, err = s.client.GetStatefulSet(context.Background(), "shop-db-statefulset")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	_, err = s.client.GetService(context.Background(), "shop-db-service")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	_, err = s.client.GetSecret(context.Background(), "shop-db-secret")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *orchestratorSuite) TestListEmpty(c *gc.C) {
	instances, err := s.orc.List(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(instances, gc.HasLen, 0)
}

func (s *orchestratorSuite) TestListSortedAndDecorated(c *gc.C) {
	_, err := s.orc.Create(context.Background(), database.CreateArgs{
		Name:   "beta-cache",
		Engine: database.EngineRedis,
	})
	c.Assert(err, jc.ErrorIsNil)
	_, err = s.orc.Create(context.Background(), database.CreateArgs{
		Name:   "alpha-db",
		Engine: database.EnginePostgres,
	})
	c.Assert(err, jc.ErrorIsNil)

	// Mark alpha-db's single replica ready.
	workload, err := s.client.GetStatefulSet(context.Background(), "alpha-db-statefulset")
	c.Assert(err, jc.ErrorIsNil)
	workload.Status.ReadyReplicas = 1
	_, err = s.clientset.AppsV1().StatefulSets(testNamespace).Update(
		context.Background(), workload, metav1.UpdateOptions{})
	c.Assert(err, jc.ErrorIsNil)

	instances, err := s.orc.List(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(instances, gc.HasLen, 2)

	c.Check(instances[0].Name, gc.Equals, "alpha-db")
	c.Check(instances[0].Engine, gc.Equals, database.EnginePostgres)
	c.Check(instances[0].Status, gc.Equals, database.StatusRunning)
	c.Check(instances[0].Username, gc.Matches, "pguser_[a-z0-9]{8}")
	c.Check(instances[0].InternalName, gc.Equals, "alpha_db")

	c.Check(instances[1].Name, gc.Equals, "beta-cache")
	c.Check(instances[1].Engine, gc.Equals, database.EngineRedis)
	c.Check(instances[1].Status, gc.Equals, database.StatusPending)
}

func (s *orchestratorSuite) TestGetWithEndpoint(c *gc.C) {
	s.createPostgres(c)

	service, err := s.clientset.CoreV1().Services(testNamespace).Get(
		context.Background(), "shop-db-service", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	service.Spec.ClusterIP = "10.96.0.17"
	_, err = s.clientset.CoreV1().Services(testNamespace).Update(
		context.Background(), service, metav1.UpdateOptions{})
	c.Assert(err, jc.ErrorIsNil)

	inst, err := s.orc.Get(context.Background(), "shop-db")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(inst.Endpoint, gc.NotNil)
	c.Check(inst.Endpoint.IP, gc.Equals, "10.96.0.17")
	c.Check(inst.Endpoint.Port, gc.Equals, int32(5432))
}

func (s *orchestratorSuite) TestGetNotFound(c *gc.C) {
	_, err := s.orc.Get(context.Background(), "ghost-db")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	c.Assert(err, gc.ErrorMatches, `database "ghost-db" not found`)
}

func (s *orchestratorSuite) TestGetSurvivesMissingSecret(c *gc.C) {
	s.createPostgres(c)
	err := s.clientset.CoreV1().Secrets(testNamespace).Delete(
		context.Background(), "shop-db-secret", metav1.DeleteOptions{})
	c.Assert(err, jc.ErrorIsNil)

	inst, err := s.orc.Get(context.Background(), "shop-db")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(inst.Username, gc.Equals, "")
	c.Check(inst.Password, gc.Equals, "")
	c.Check(inst.Version, gc.Equals, "16")
	c.Check(inst.Status, gc.Equals, database.StatusPending)
}

func (s *orchestratorSuite) TestDeleteRemovesResources(c *gc.C) {
	s.createPostgres(c)

	// The workload controller leaves template claims behind; stand one
	// up so the explicit delete is observable.
	_, err := s.clientset.CoreV1().PersistentVolumeClaims(testNamespace).Create(
		context.Background(), &corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "pgdata-shop-db-statefulset-0",
				Namespace: testNamespace,
			},
		}, metav1.CreateOptions{})
	c.Assert(err, jc.ErrorIsNil)

	err = s.orc.Delete(context.Background(), "shop-db")
	c.Assert(err, jc.ErrorIsNil)

	_, err = s.client.GetStatefulSet(context.Background(), "shop-db-statefulset")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	_, err = s.client.GetService(context.Background(), "shop-db-service")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	_, err = s.client.GetCronJob(context.Background(), "shop-db-backup")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	_, err = s.client.GetSecret(context.Background(), "shop-db-secret")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	_, err = s.clientset.CoreV1().PersistentVolumeClaims(testNamespace).Get(
		context.Background(), "pgdata-shop-db-statefulset-0", metav1.GetOptions{})
	c.Assert(k8serrors.IsNotFound(err), jc.IsTrue)

	select {
	case name := <-s.remover.called:
		c.Check(name, gc.Equals, "shop_db")
	case <-time.After(jujutesting.LongWait):
		c.Fatalf("timed out waiting for artifact removal")
	}
}

func (s *orchestratorSuite) TestDeleteNotFound(c *gc.C) {
	err := s.orc.Delete(context.Background(), "ghost-db")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	c.Assert(err, gc.ErrorMatches, `database "ghost-db" not found`)
}

func (s *orchestratorSuite) TestDeleteTwice(c *gc.C) {
	s.createPostgres(c)
	c.Assert(s.orc.Delete(context.Background(), "shop-db"), jc.ErrorIsNil)

	err := s.orc.Delete(context.Background(), "shop-db")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *orchestratorSuite) TestDeleteWithoutSecretSkipsArtifacts(c *gc.C) {
	s.createPostgres(c)
	err := s.clientset.CoreV1().Secrets(testNamespace).Delete(
		context.Background(), "shop-db-secret", metav1.DeleteOptions{})
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(s.orc.Delete(context.Background(), "shop-db"), jc.ErrorIsNil)

	select {
	case name := <-s.remover.called:
		c.Fatalf("unexpected artifact removal for %q", name)
	case <-time.After(jujutesting.ShortWait):
	}
}

func (s *orchestratorSuite) TestDeleteWithoutEngineLabelLeavesClaim(c *gc.C) {
	s.createPostgres(c)

	workload, err := s.client.GetStatefulSet(context.Background(), "shop-db-statefulset")
	c.Assert(err, jc.ErrorIsNil)
	delete(workload.Labels, "wharfkeep.io/engine")
	_, err = s.clientset.AppsV1().StatefulSets(testNamespace).Update(
		context.Background(), workload, metav1.UpdateOptions{})
	c.Assert(err, jc.ErrorIsNil)

	_, err = s.clientset.CoreV1().PersistentVolumeClaims(testNamespace).Create(
		context.Background(), &corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "pgdata-shop-db-statefulset-0",
				Namespace: testNamespace,
			},
		}, metav1.CreateOptions{})
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(s.orc.Delete(context.Background(), "shop-db"), jc.ErrorIsNil)

	// Without the engine label the claim name cannot be derived.
	_, err = s.clientset.CoreV1().PersistentVolumeClaims(testNamespace).Get(
		context.Background(), "pgdata-shop-db-statefulset-0", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *orchestratorSuite) TestDeleteWithoutArtifactRemover(c *gc.C) {
	orc, err := orchestrator.New(orchestrator.Params{
		Client:                s.client,
		Clock:                 clock.WallClock,
		PasswordLength:        20,
		DefaultBackupSchedule: "0 3 * * *",
	})
	c.Assert(err, jc.ErrorIsNil)

	_, err = orc.Create(context.Background(), database.CreateArgs{
		Name:   "shop-db",
		Engine: database.EnginePostgres,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(orc.Delete(context.Background(), "shop-db"), jc.ErrorIsNil)
}
