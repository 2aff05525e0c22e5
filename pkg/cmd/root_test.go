package cmd

import (
	"testing"

	"github.com/stleox/apmtrace/pkg/config"
	r "github.com/stretchr/testify/require"
)

func TestNewViper_Env(t *testing.T) {
	t.Setenv("HAWKULAR_APM_URI", "http://apm:8080")
	t.Setenv("HAWKULAR_APM_OLAP_DSN", "root:@tcp(doris:9030)/apm")

	vp := NewViper()
	r.Equal(t, "http://apm:8080", vp.GetString(config.KeyURI))
	r.Equal(t, "root:@tcp(doris:9030)/apm", vp.GetString(config.KeyOlapDSN))
	r.Empty(t, vp.GetString(config.KeySampling))
}

func TestNew_DebugFlag(t *testing.T) {
	defer func() { config.Debug = false }()

	root := New(NewViper())
	r.NotNil(t, root.PersistentFlags().Lookup("debug"))
	r.NoError(t, root.PersistentFlags().Parse([]string{"--debug"}))
	r.True(t, config.Debug)
}
