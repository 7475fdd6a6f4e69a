// Package request parses test request documents. A parsed Request is treated
// as immutable by every session that reads it.
package request

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Job classifications.
const (
	SingleNode = "single-node"
	MultiNode  = "multinode"
)

// MasterRole is the role driven end to end.
const MasterRole = "master"

// Instance is the per-role instance configuration.
type Instance struct {
	// Board optionally pins a named board from the inventory.
	Board      string `yaml:"board,omitempty"`
	BootMethod string `yaml:"boot_method"`
	// Images maps boot method to image parameters (kernel, dtb, rootfs).
	Images map[string]map[string]string `yaml:",inline"`
}

// ImageParams returns the image parameters of the configured boot method.
func (i Instance) ImageParams() map[string]string {
	return i.Images[i.BootMethod]
}

// Toolkit describes the artifacts pushed to the board before tests run.
type Toolkit struct {
	GitRepos         []string
	EnvVars          []string
	PackageInstaller string
	RepositoryURL    string
	RepositoryList   []string
}

// Request is one parsed test request.
type Request struct {
	Name        string
	JobType     string
	Boards      map[string]string
	MasterType  string
	SlaveTypes  []string
	Instances   map[string]Instance
	Toolkit     Toolkit
	MasterTests []string
}

type rawToolkit struct {
	GitRepos         stringList `yaml:"git_repos"`
	EnvVars          []string   `yaml:"env_vars"`
	PackageInstaller string     `yaml:"package_installer"`
	RepositoryURL    string     `yaml:"package_repository_url"`
	RepositoryList   string     `yaml:"repository_list"`
}

type rawRequest struct {
	Boards         map[string]stringList `yaml:"boards"`
	InstanceConfig map[string]Instance   `yaml:"instance_config"`
	Tests          struct {
		Toolkit rawToolkit `yaml:"toolkit"`
		Master  []string   `yaml:"master"`
	} `yaml:"tests"`
}

// stringList accepts either a scalar or a sequence of scalars.
type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "" {
			*s = []string{node.Value}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
}

// Parse decodes and validates a request document.
func Parse(name string, data []byte) (*Request, error) {
	var raw rawRequest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse test request %s: %w", name, err)
	}

	r := &Request{
		Name:      name,
		Boards:    map[string]string{},
		Instances: raw.InstanceConfig,
	}
	if r.Instances == nil {
		r.Instances = map[string]Instance{}
	}

	roles := make([]string, 0, len(raw.Boards))
	for role := range raw.Boards {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		types := raw.Boards[role]
		switch {
		case role == MasterRole:
			if len(types) != 1 {
				return nil, fmt.Errorf("test request %s: exactly one master board type required, got %d", name, len(types))
			}
			r.MasterType = types[0]
			r.Boards[role] = types[0]
		case strings.HasPrefix(role, "slave"):
			r.SlaveTypes = append(r.SlaveTypes, types...)
			r.Boards[role] = strings.Join(types, ",")
		default:
			return nil, fmt.Errorf("test request %s: unknown board role %q", name, role)
		}
	}
	if r.MasterType == "" {
		return nil, fmt.Errorf("test request %s: no master board", name)
	}
	if len(r.SlaveTypes) == 0 {
		r.JobType = SingleNode
	} else {
		r.JobType = MultiNode
	}

	master, ok := r.Instances[MasterRole]
	if !ok || master.BootMethod == "" {
		return nil, fmt.Errorf("test request %s: instance_config.master.boot_method is required", name)
	}

	tk := raw.Tests.Toolkit
	r.Toolkit = Toolkit{
		GitRepos:         tk.GitRepos,
		EnvVars:          tk.EnvVars,
		PackageInstaller: tk.PackageInstaller,
		RepositoryURL:    strings.TrimRight(tk.RepositoryURL, "/"),
		RepositoryList:   strings.Fields(tk.RepositoryList),
	}
	r.MasterTests = raw.Tests.Master
	if len(r.MasterTests) > 0 && r.Toolkit.PackageInstaller == "" {
		return nil, fmt.Errorf("test request %s: tests.toolkit.package_installer is required", name)
	}
	return r, nil
}

// Load reads a request file.
func Load(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Master returns the master role's instance configuration.
func (r *Request) Master() Instance {
	return r.Instances[MasterRole]
}

// EnvProfile renders the environment-variable profile sourced before every
// remote install and test run.
func (r *Request) EnvProfile() string {
	if len(r.Toolkit.EnvVars) == 0 {
		return ""
	}
	return strings.Join(r.Toolkit.EnvVars, "\n") + "\n"
}

// RepoList renders the package repository list file, one trusted apt source
// line per repository.
func (r *Request) RepoList() string {
	var b strings.Builder
	for _, repo := range r.Toolkit.RepositoryList {
		fmt.Fprintf(&b, "deb [trusted=yes] %s/%s/ ./\n", r.Toolkit.RepositoryURL, repo)
	}
	return b.String()
}
