// Package chart checks the parts of the Helm chart the service contract
// depends on: image reference, ports, probe paths and ingress hosts. It does
// not render templates; that stays with helm.
package chart

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Metadata is the subset of Chart.yaml that is checked.
type Metadata struct {
	APIVersion  string `yaml:"apiVersion"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	AppVersion  string `yaml:"appVersion"`
	Description string `yaml:"description"`
}

type HTTPGet struct {
	Path string    `yaml:"path"`
	Port yaml.Node `yaml:"port"`
}

type Probe struct {
	HTTPGet *HTTPGet `yaml:"httpGet"`
}

type IngressHost struct {
	Host  string `yaml:"host"`
	Paths []struct {
		Path     string `yaml:"path"`
		PathType string `yaml:"pathType"`
	} `yaml:"paths"`
}

// Values is the subset of values.yaml that is checked.
type Values struct {
	ReplicaCount int `yaml:"replicaCount"`
	Image        struct {
		Repository string `yaml:"repository"`
		PullPolicy string `yaml:"pullPolicy"`
		Tag        string `yaml:"tag"`
	} `yaml:"image"`
	ContainerPort int `yaml:"containerPort"`
	Service       struct {
		Type string `yaml:"type"`
		Port int    `yaml:"port"`
	} `yaml:"service"`
	Ingress struct {
		Enabled bool          `yaml:"enabled"`
		Hosts   []IngressHost `yaml:"hosts"`
	} `yaml:"ingress"`
	LivenessProbe  *Probe `yaml:"livenessProbe"`
	ReadinessProbe *Probe `yaml:"readinessProbe"`
}

// Chart is a loaded chart directory.
type Chart struct {
	Dir      string
	Metadata Metadata
	Values   Values
}

// Load reads Chart.yaml and values.yaml from dir.
func Load(dir string) (*Chart, error) {
	c := &Chart{Dir: dir}
	if err := readYAML(filepath.Join(dir, "Chart.yaml"), &c.Metadata); err != nil {
		return nil, err
	}
	if err := readYAML(filepath.Join(dir, "values.yaml"), &c.Values); err != nil {
		return nil, err
	}
	return c, nil
}

func readYAML(path string, out interface{}) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(content, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

var pullPolicies = map[string]bool{"Always": true, "IfNotPresent": true, "Never": true}

// Lint returns every problem found; nil means the chart is usable.
func (c *Chart) Lint() []error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	m := c.Metadata
	if m.APIVersion != "v2" {
		add("Chart.yaml: apiVersion must be v2, got %q", m.APIVersion)
	}
	if m.Name == "" {
		add("Chart.yaml: name is required")
	}
	if m.Version == "" {
		add("Chart.yaml: version is required")
	}
	if m.AppVersion == "" {
		add("Chart.yaml: appVersion is required")
	}

	v := c.Values
	if v.ReplicaCount < 1 {
		add("values.yaml: replicaCount must be at least 1, got %d", v.ReplicaCount)
	}
	if v.Image.Repository == "" {
		add("values.yaml: image.repository is required")
	}
	if !pullPolicies[v.Image.PullPolicy] {
		add("values.yaml: image.pullPolicy %q is not one of Always, IfNotPresent, Never", v.Image.PullPolicy)
	}
	if !validPort(v.ContainerPort) {
		add("values.yaml: containerPort %d out of range", v.ContainerPort)
	}
	if !validPort(v.Service.Port) {
		add("values.yaml: service.port %d out of range", v.Service.Port)
	}
	if err := c.checkProbe(v.LivenessProbe); err != nil {
		add("values.yaml: livenessProbe: %v", err)
	}
	if err := c.checkProbe(v.ReadinessProbe); err != nil {
		add("values.yaml: readinessProbe: %v", err)
	}
	if v.Ingress.Enabled {
		if len(v.Ingress.Hosts) == 0 {
			add("values.yaml: ingress.enabled requires at least one host")
		}
		for i, h := range v.Ingress.Hosts {
			if h.Host == "" {
				add("values.yaml: ingress.hosts[%d].host is empty", i)
			}
		}
	}
	return errs
}

// The probe must hit GET / on the container port, by name or number.
func (c *Chart) checkProbe(p *Probe) error {
	if p == nil || p.HTTPGet == nil {
		return fmt.Errorf("httpGet probe is required")
	}
	if p.HTTPGet.Path != "/" {
		return fmt.Errorf("path must be /, got %q", p.HTTPGet.Path)
	}
	port := p.HTTPGet.Port
	switch {
	case port.Kind == 0:
		return fmt.Errorf("port is required")
	case port.ShortTag() == "!!int":
		var n int
		if err := port.Decode(&n); err != nil {
			return fmt.Errorf("port: %w", err)
		}
		if n != c.Values.ContainerPort {
			return fmt.Errorf("port %d does not match containerPort %d", n, c.Values.ContainerPort)
		}
	case port.Value != "http":
		return fmt.Errorf("port %q is not the container port name http", port.Value)
	}
	return nil
}

func validPort(n int) bool { return n >= 1 && n <= 65535 }
