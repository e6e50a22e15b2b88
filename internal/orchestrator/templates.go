// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/pointer"

	"github.com/wharfkeep/wharfkeep/internal/engine"
	"github.com/wharfkeep/wharfkeep/internal/kubernetes"
)

const (
	// defaultVolumeSize is the data volume request for every
	// instance.
	defaultVolumeSize = "1Gi"

	// backupContainerName is the single container in backup job pods.
	backupContainerName = "backup"
)

// renderContext carries everything needed to render the resource set
// of one instance. Rendering is pure; nothing here touches the
// cluster.
type renderContext struct {
	name           string
	namespace      string
	strategy       engine.Strategy
	version        string
	username       string
	password       string
	databaseName   string
	backupSchedule string
}

// secret renders the per-instance credentials secret. Values are
// stored as data so reads return the same shape writes produced.
func (r renderContext) secret() *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      kubernetes.SecretName(r.name),
			Namespace: r.namespace,
			Labels:    kubernetes.InstanceLabels(r.name),
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			engine.SecretKeyUsername:       []byte(r.username),
			engine.SecretKeyPassword:       []byte(r.password),
			engine.SecretKeyDatabase:       []byte(r.databaseName),
			engine.SecretKeyVersion:        []byte(r.version),
			engine.SecretKeyBackupSchedule: []byte(r.backupSchedule),
		},
	}
}

// service renders the instance's stable in-cluster endpoint.
func (r renderContext) service() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      kubernetes.ServiceName(r.name),
			Namespace: r.namespace,
			Labels:    kubernetes.InstanceLabels(r.name),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: kubernetes.SelectorLabels(r.name),
			Ports: []corev1.ServicePort{{
				Port: r.strategy.DefaultPort(),
			}},
		},
	}
}

// statefulSet renders the single-replica database workload.
func (r renderContext) statefulSet() *appsv1.StatefulSet {
	secretName := kubernetes.SecretName(r.name)
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      kubernetes.StatefulSetName(r.name),
			Namespace: r.namespace,
			Labels:    kubernetes.WorkloadLabels(r.name, r.strategy.Engine()),
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:    pointer.Int32Ptr(1),
			ServiceName: kubernetes.ServiceName(r.name),
			Selector: &metav1.LabelSelector{
				MatchLabels: kubernetes.SelectorLabels(r.name),
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: kubernetes.InstanceLabels(r.name),
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:           string(r.strategy.Engine()),
						Image:          r.strategy.ImageFor(r.version),
						Args:           r.strategy.ContainerArgs(),
						Env:            r.strategy.ContainerEnv(secretName),
						ReadinessProbe: r.strategy.ReadinessProbe(),
						Ports: []corev1.ContainerPort{{
							ContainerPort: r.strategy.DefaultPort(),
						}},
						VolumeMounts: r.strategy.VolumeMounts(),
					}},
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{{
				ObjectMeta: metav1.ObjectMeta{
					Name:   r.strategy.VolumeName(),
					Labels: kubernetes.InstanceLabels(r.name),
				},
				Spec: corev1.PersistentVolumeClaimSpec{
					AccessModes: []corev1.PersistentVolumeAccessMode{
						corev1.ReadWriteOnce,
					},
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceStorage: resource.MustParse(defaultVolumeSize),
						},
					},
				},
			}},
		},
	}
}

// cronJob renders the scheduled backup, or nil for engines without
// one. The job pod gets instance credentials from the strategy's env
// and object-store location from the shared secret.
func (r renderContext) cronJob() *batchv1.CronJob {
	job := r.strategy.BackupJobSpec(
		kubernetes.ServiceName(r.name), kubernetes.SecretName(r.name), r.version)
	if job == nil {
		return nil
	}
	return &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      kubernetes.CronJobName(r.name),
			Namespace: r.namespace,
			Labels:    kubernetes.InstanceLabels(r.name),
		},
		Spec: batchv1.CronJobSpec{
			Schedule:          r.backupSchedule,
			ConcurrencyPolicy: batchv1.ForbidConcurrent,
			JobTemplate: batchv1.JobTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: kubernetes.InstanceLabels(r.name),
				},
				Spec: batchv1.JobSpec{
					BackoffLimit: pointer.Int32Ptr(2),
					Template: corev1.PodTemplateSpec{
						ObjectMeta: metav1.ObjectMeta{
							Labels: kubernetes.InstanceLabels(r.name),
						},
						Spec: corev1.PodSpec{
							RestartPolicy: corev1.RestartPolicyOnFailure,
							Containers: []corev1.Container{{
								Name:    backupContainerName,
								Image:   job.Image,
								Command: job.Command,
								Env:     job.Env,
								EnvFrom: []corev1.EnvFromSource{{
									SecretRef: &corev1.SecretEnvSource{
										LocalObjectReference: corev1.LocalObjectReference{
											Name: kubernetes.SharedObjectStoreSecretName,
										},
									},
								}},
							}},
						},
					},
				},
			},
		},
	}
}

// sharedObjectStoreSecret renders the namespace-level secret holding
// object-store credentials for backup job pods. The keys are the ones
// the aws CLI reads natively.
func sharedObjectStoreSecret(namespace string, store ObjectStoreSettings) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      kubernetes.SharedObjectStoreSecretName,
			Namespace: namespace,
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			"S3_ENDPOINT":           []byte(store.Endpoint),
			"S3_BUCKET":             []byte(store.Bucket),
			"AWS_ACCESS_KEY_ID":     []byte(store.AccessKey),
			"AWS_SECRET_ACCESS_KEY": []byte(store.SecretKey),
			"AWS_DEFAULT_REGION":    []byte(store.Region),
		},
	}
}
