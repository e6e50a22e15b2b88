// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type klogSuite struct{}

var _ = gc.Suite(&klogSuite{})

// logRecorder captures loggo entries for assertion.
type logRecorder struct {
	entries []loggo.Entry
}

func (r *logRecorder) Write(entry loggo.Entry) {
	r.entries = append(r.entries, entry)
}

func (s *klogSuite) newAdapter(c *gc.C) (*klogAdapter, *logRecorder) {
	recorder := &logRecorder{}
	ctx := loggo.NewContext(loggo.TRACE)
	err := ctx.AddWriter("recorder", recorder)
	c.Assert(err, jc.ErrorIsNil)
	return &klogAdapter{logger: ctx.GetLogger("test.klog")}, recorder
}

func (s *klogSuite) TestInfoMapsVerboseLevelsToDebug(c *gc.C) {
	adapter, recorder := s.newAdapter(c)
	adapter.Info(0, "connected to cluster")
	adapter.Info(2, "watch channel details")
	c.Assert(recorder.entries, gc.HasLen, 2)
	c.Check(recorder.entries[0].Level, gc.Equals, loggo.INFO)
	c.Check(recorder.entries[0].Message, gc.Equals, "connected to cluster")
	c.Check(recorder.entries[1].Level, gc.Equals, loggo.DEBUG)
	c.Check(recorder.entries[1].Message, gc.Equals, "watch channel details")
}

func (s *klogSuite) TestErrorIncludesCause(c *gc.C) {
	adapter, recorder := s.newAdapter(c)
	adapter.Error(errors.New("connection refused"), "watch failed")
	c.Assert(recorder.entries, gc.HasLen, 1)
	c.Check(recorder.entries[0].Level, gc.Equals, loggo.ERROR)
	c.Check(recorder.entries[0].Message, gc.Equals, "watch failed: connection refused")
}

func (s *klogSuite) TestErrorWithoutCause(c *gc.C) {
	adapter, recorder := s.newAdapter(c)
	adapter.Error(nil, "throttling request")
	c.Assert(recorder.entries, gc.HasLen, 1)
	c.Check(recorder.entries[0].Message, gc.Equals, "throttling request")
}

func (s *klogSuite) TestKeyValuePairsAppended(c *gc.C) {
	adapter, recorder := s.newAdapter(c)
	child := adapter.WithValues("pod", "shop-db-0")
	child.Info(0, "pulling image", "image", "postgres:16")
	c.Assert(recorder.entries, gc.HasLen, 1)
	c.Check(recorder.entries[0].Message, gc.Equals, "pulling image pod=shop-db-0 image=postgres:16")
}

func (s *klogSuite) TestWithValuesDoesNotMutateParent(c *gc.C) {
	adapter, recorder := s.newAdapter(c)
	_ = adapter.WithValues("pod", "shop-db-0")
	adapter.Info(0, "plain message")
	c.Assert(recorder.entries, gc.HasLen, 1)
	c.Check(recorder.entries[0].Message, gc.Equals, "plain message")
}
