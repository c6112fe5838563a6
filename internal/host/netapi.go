package host

import (
	"context"
	"net"
	"net/url"
	"regexp"

	"github.com/railgunhq/railgun/internal/homework"
)

// invalidAddr is substituted for unresolvable hosts so the IP rule check
// fails closed instead of erroring out.
const invalidAddr = "<invalid>"

// NetHost runs a network API handin: instead of an archive the student
// submits the address of a running service, which must pass the optional
// URL and IP rules of the code package before the checker is spawned.
type NetHost struct {
	*Host
	address string
	resolve func(ctx context.Context, host string) ([]string, error)
}

// NewNetHost builds a host for the "netapi" code package of hw, checking
// the submitted service address.
func NewNetHost(opts Options, handinID string, hw *homework.Homework, address string) (*NetHost, error) {
	base, err := New(opts, handinID, hw, "netapi")
	if err != nil {
		return nil, err
	}
	return &NetHost{
		Host:    base,
		address: address,
		resolve: net.DefaultResolver.LookupHost,
	}, nil
}

// ValidateAddress checks the submitted address against the optional
// "urlrule" and "iprule" runner parameters. The URL rule matches the raw
// address; the IP rule matches every address the host name resolves to,
// and an unresolvable name deterministically fails the check.
func (h *NetHost) ValidateAddress(ctx context.Context) error {
	if rule := h.code.RunnerParams["urlrule"]; rule != "" {
		re, err := regexp.Compile(rule)
		if err != nil {
			return ErrInternal(err)
		}
		if !re.MatchString(h.address) {
			return ErrAddressRejected(h.address)
		}
	}

	if rule := h.code.RunnerParams["iprule"]; rule != "" {
		re, err := regexp.Compile(rule)
		if err != nil {
			return ErrInternal(err)
		}
		ips := h.resolveIPs(ctx)
		for _, ip := range ips {
			if !re.MatchString(ip) {
				return ErrAddressRejected(h.address)
			}
		}
	}
	return nil
}

// resolveIPs resolves the host part of the submitted address. Anything
// that prevents resolution yields the synthetic invalid address, which no
// sane IP rule matches.
func (h *NetHost) resolveIPs(ctx context.Context) []string {
	u, err := url.Parse(h.address)
	if err != nil || u.Hostname() == "" {
		return []string{invalidAddr}
	}
	ips, err := h.resolve(ctx, u.Hostname())
	if err != nil || len(ips) == 0 {
		return []string{invalidAddr}
	}
	return ips
}

// Run validates the address, exposes it to the checker process and spawns
// the code package entry.
func (h *NetHost) Run(ctx context.Context) (ProcessResult, error) {
	if err := h.ValidateAddress(ctx); err != nil {
		return ProcessResult{}, err
	}
	h.SetEnv("RAILGUN_API_URL", h.address)
	return h.Host.Run(ctx)
}
