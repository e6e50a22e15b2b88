// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/wharfkeep/wharfkeep/core/database"
)

type strategySuite struct{}

var _ = gc.Suite(&strategySuite{})

func (s *strategySuite) TestForEnginePostgres(c *gc.C) {
	st, err := ForEngine(database.EnginePostgres)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(st.Engine(), gc.Equals, database.EnginePostgres)
}

func (s *strategySuite) TestForEngineRedis(c *gc.C) {
	st, err := ForEngine(database.EngineRedis)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(st.Engine(), gc.Equals, database.EngineRedis)
}

func (s *strategySuite) TestForEngineUnknown(c *gc.C) {
	_, err := ForEngine(database.Engine("mariadb"))
	c.Assert(err, jc.ErrorIs, ErrUnknown)
	c.Assert(err, gc.ErrorMatches, `unknown database engine "mariadb"`)
}

func (s *strategySuite) TestSecretEnvReferencesSecret(c *gc.C) {
	ev := secretEnv("POSTGRES_USER", "shop-db-secret", SecretKeyUsername)
	c.Check(ev.Name, gc.Equals, "POSTGRES_USER")
	c.Assert(ev.ValueFrom, gc.NotNil)
	c.Check(ev.ValueFrom.SecretKeyRef.Name, gc.Equals, "shop-db-secret")
	c.Check(ev.ValueFrom.SecretKeyRef.Key, gc.Equals, "username")
}
