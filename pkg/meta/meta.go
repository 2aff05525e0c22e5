package meta

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Environment variables the metadata is discovered from.
const (
	EnvServiceName    = "HAWKULAR_APM_SERVICE_NAME"
	EnvBuildName      = "OPENSHIFT_BUILD_NAME"
	EnvBuildNamespace = "OPENSHIFT_BUILD_NAMESPACE"
)

// Provider describes the deployment the tracer runs in. Empty values are
// left out of reported fragments.
type Provider interface {
	ServiceName() string
	BuildStamp() string
}

// Static is a fixed Provider.
type Static struct {
	Service string
	Build   string
}

func (s Static) ServiceName() string { return s.Service }
func (s Static) BuildStamp() string  { return s.Build }

// Reloadable re-reads service name and build stamp on Reload.
type Reloadable struct {
	serviceName func() string
	buildStamp  func() string

	mu      sync.RWMutex
	service string
	build   string
}

func NewReloadable(serviceName, buildStamp func() string) *Reloadable {
	r := &Reloadable{
		serviceName: serviceName,
		buildStamp:  buildStamp,
	}
	r.Reload()
	return r
}

// Reload refreshes both values from their sources.
func (r *Reloadable) Reload() {
	service, build := r.serviceName(), r.buildStamp()
	r.mu.Lock()
	r.service, r.build = service, build
	r.mu.Unlock()
}

func (r *Reloadable) ServiceName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.service
}

func (r *Reloadable) BuildStamp() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.build
}

// Viper keys bound to the environment variables above.
const (
	keyServiceName    = "meta.service_name"
	keyBuildName      = "meta.build_name"
	keyBuildNamespace = "meta.build_namespace"
)

// FromEnv discovers metadata from the environment through vp. The variables
// are bound by their full names, whatever env prefix vp carries.
func FromEnv(vp *viper.Viper) *Reloadable {
	_ = vp.BindEnv(keyServiceName, EnvServiceName)
	_ = vp.BindEnv(keyBuildName, EnvBuildName)
	_ = vp.BindEnv(keyBuildNamespace, EnvBuildNamespace)

	buildStamp := func() string {
		return BuildStamp(vp.GetString(keyBuildNamespace), vp.GetString(keyBuildName))
	}
	return NewReloadable(
		func() string { return ServiceName(vp.GetString(keyServiceName), buildStamp()) },
		buildStamp,
	)
}

// BuildStamp is "<namespace>.<build name>", or the bare build name without a
// namespace. Empty without a build name.
func BuildStamp(namespace, buildName string) string {
	if buildName == "" {
		return ""
	}
	if namespace == "" {
		return buildName
	}
	return namespace + "." + buildName
}

// ServiceName returns the explicit name, else the build stamp without its
// last dash separated suffix (the build number).
func ServiceName(explicit, buildStamp string) string {
	if explicit != "" {
		return explicit
	}
	if i := strings.LastIndex(buildStamp, "-"); i >= 0 {
		return buildStamp[:i]
	}
	return buildStamp
}
