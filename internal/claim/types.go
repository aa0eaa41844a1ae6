package claim

import (
	"context"
	"net/url"
	"strings"
	"time"

	"spclaim/internal/task/engine"
)

// Default network of the staking contracts.
const (
	DefaultRegistryAddress  = "0xd976d3b4f4e22a238c1A736b6612D22f17b6f64C"
	DefaultTokenAddress     = "0x18aAA7115705e8be94bfFEBDE57Af9BFc265B998"
	DefaultProviderEndpoint = "https://eth.llamarpc.com"
)

// Network names the contracts and the provider a claim runs against.
type Network struct {
	RegistryAddress  string `json:"registry_address"`
	TokenAddress     string `json:"token_address"`
	ProviderEndpoint string `json:"provider_endpoint"`
}

func DefaultNetwork() Network {
	return Network{
		RegistryAddress:  DefaultRegistryAddress,
		TokenAddress:     DefaultTokenAddress,
		ProviderEndpoint: DefaultProviderEndpoint,
	}
}

// WithDefaults fills empty fields from def.
func (n Network) WithDefaults(def Network) Network {
	if strings.TrimSpace(n.RegistryAddress) == "" {
		n.RegistryAddress = def.RegistryAddress
	}
	if strings.TrimSpace(n.TokenAddress) == "" {
		n.TokenAddress = def.TokenAddress
	}
	if strings.TrimSpace(n.ProviderEndpoint) == "" {
		n.ProviderEndpoint = def.ProviderEndpoint
	}
	return n
}

const redacted = "[redacted]"

// Credential is the signing secret of the owner. It never prints.
type Credential string

func (c Credential) String() string   { return redacted }
func (c Credential) GoString() string { return redacted }

func (c Credential) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// Reveal returns the raw secret.
func (c Credential) Reveal() string { return string(c) }

// Request is one independently scheduled claim.
type Request struct {
	Name       string
	Owner      string
	Credential Credential
	Network    Network

	Schedule   string
	Timezone   string
	Timeout    time.Duration
	Overlap    engine.OverlapPolicy
	QueueDepth int
	// RetryMax nil inherits the engine setting; 0 means no retries.
	RetryMax *int
}

// Claimer performs the external claim operation.
type Claimer interface {
	ClaimRewards(ctx context.Context, owner string, cred Credential, net Network) error
}

// ClaimerFunc adapts a function to Claimer.
type ClaimerFunc func(ctx context.Context, owner string, cred Credential, net Network) error

func (f ClaimerFunc) ClaimRewards(ctx context.Context, owner string, cred Credential, net Network) error {
	return f(ctx, owner, cred, net)
}

// Registrar is the scheduler port the invoker registers claims on.
type Registrar interface {
	Add(name, schedule, timezone string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
	Names() []string
}

// EndpointHost returns the host of a provider endpoint for logging; paths
// and query strings often carry API keys.
func EndpointHost(endpoint string) string {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Host == "" {
		if strings.Contains(endpoint, "://") {
			return "[redacted]"
		}
		// IPC path
		return endpoint
	}
	return u.Scheme + "://" + u.Host
}
