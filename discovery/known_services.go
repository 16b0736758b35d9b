package discovery

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed known_services.yaml
var knownServicesYAML []byte

// KnownService is one entry from known_services.yaml.
type KnownService struct {
	Name        string `yaml:"name"`
	Scheme      string `yaml:"scheme"`
	DefaultPort int    `yaml:"default_port"`
}

type knownServicesFile struct {
	Services []KnownService `yaml:"services"`
}

// KnownServices is parsed once from the embedded table at init time,
// mirroring the reference TNC's deviceid_init reading tocalls.yaml at
// startup, except this table is compiled into the binary instead of
// searched for on disk: the service list is part of this package's
// behavior, not site-local configuration.
var KnownServices []KnownService

// byName indexes KnownServices by the literal mDNS service name
// ("_vxi-11._tcp.local.", with the trailing dot).
var byName map[string]KnownService

func init() {
	var f knownServicesFile
	if err := yaml.Unmarshal(knownServicesYAML, &f); err != nil {
		panic(fmt.Sprintf("discovery: embedded known_services.yaml is malformed: %v", err))
	}
	KnownServices = f.Services
	byName = make(map[string]KnownService, len(f.Services))
	for _, s := range f.Services {
		byName[s.Name] = s
	}
}

// LookupService returns the KnownService for an mDNS service name, and
// whether it was found.
func LookupService(name string) (KnownService, bool) {
	s, ok := byName[name]
	return s, ok
}
