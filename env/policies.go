package env

import (
	"os"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/coregrid/go-resilience/resilience"
)

// policyFile is the on-disk shape of a policy file:
//
//	policies:
//	  graphql:
//	    max_attempts: 5
//	    initial_delay: 2s
//	    max_delay: 2m
//	    exponential_base: 2.0
//	    jitter: true
//	    retryable_kinds: [server_error, rate_limited, timeout]
//	  download:
//	    max_attempts: 2
//	    initial_delay: 500ms
type policyFile struct {
	Policies map[string]policyEntry `yaml:"policies"`
}

type policyEntry struct {
	MaxAttempts     *int     `yaml:"max_attempts"`
	InitialDelay    string   `yaml:"initial_delay"`
	MaxDelay        string   `yaml:"max_delay"`
	ExponentialBase *float64 `yaml:"exponential_base"`
	Jitter          *bool    `yaml:"jitter"`
	RetryableKinds  []string `yaml:"retryable_kinds"`
}

// LoadPolicyFile reads named retry policies from a YAML file. Unset fields
// fall back to DefaultRetryPolicy, so entries only need to state what they
// change. Every loaded policy is validated.
func LoadPolicyFile(filename string) (map[string]resilience.RetryPolicy, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading policy file %s", filename)
	}

	var file policyFile
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return nil, errors.Wrapf(err, "parsing policy file %s", filename)
	}

	policies := make(map[string]resilience.RetryPolicy, len(file.Policies))
	for name, entry := range file.Policies {
		policy, err := entry.toPolicy()
		if err != nil {
			return nil, errors.Wrapf(err, "policy %q", name)
		}
		policies[name] = policy
	}
	return policies, nil
}

func (e policyEntry) toPolicy() (resilience.RetryPolicy, error) {
	policy := resilience.DefaultRetryPolicy()

	if e.MaxAttempts != nil {
		policy.MaxAttempts = *e.MaxAttempts
	}
	if e.InitialDelay != "" {
		d, err := str2duration.ParseDuration(e.InitialDelay)
		if err != nil {
			return policy, errors.Wrap(err, "initial_delay")
		}
		policy.InitialDelay = d
	}
	if e.MaxDelay != "" {
		d, err := str2duration.ParseDuration(e.MaxDelay)
		if err != nil {
			return policy, errors.Wrap(err, "max_delay")
		}
		policy.MaxDelay = d
	}
	if e.ExponentialBase != nil {
		policy.ExponentialBase = *e.ExponentialBase
	}
	if e.Jitter != nil {
		policy.Jitter = *e.Jitter
	}
	if e.RetryableKinds != nil {
		kinds := make([]resilience.ErrorKind, 0, len(e.RetryableKinds))
		for _, s := range e.RetryableKinds {
			kind, err := resilience.ParseKind(s)
			if err != nil {
				return policy, errors.Wrap(err, "retryable_kinds")
			}
			kinds = append(kinds, kind)
		}
		policy.RetryableKinds = kinds
	}

	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}
