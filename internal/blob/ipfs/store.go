package ipfs

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	files "github.com/ipfs/boxo/files"
	"github.com/ipfs/boxo/path"
	ipfsApi "github.com/ipfs/kubo/client/rpc"
	"github.com/ipfs/kubo/core/coreiface/options"
	ma "github.com/multiformats/go-multiaddr"

	"carbonproof/internal/blob"
)

// unixfsAPI is the subset of the kubo RPC client the store uses.
type unixfsAPI interface {
	Add(ctx context.Context, data []byte) (path.ImmutablePath, error)
	Pin(ctx context.Context, p path.Path) error
	Self(ctx context.Context) error
}

// Store adds blobs to an IPFS node as CIDv1 and pins them.
type Store struct {
	api    unixfsAPI
	logger *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New connects to the kubo RPC endpoint. apiURL may be a multiaddr
// (/ip4/host/tcp/port), host:port, or a full http(s) URL.
func New(apiURL string, timeout time.Duration, opts ...Option) (*Store, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: true,
		},
	}
	endpoint, err := NormalizeURL(apiURL)
	if err != nil {
		return nil, err
	}
	api, err := ipfsApi.NewURLApiWithClient(endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("create ipfs client: %w", err)
	}
	return newStore(kuboAPI{api: api}, opts...), nil
}

func newStore(api unixfsAPI, opts ...Option) *Store {
	s := &Store{api: api, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put adds data and returns its CID.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", blob.ErrEmptyContent
	}
	p, err := s.api.Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("add to ipfs: %w", err)
	}
	if err := s.api.Pin(ctx, p); err != nil {
		return "", fmt.Errorf("pin %s: %w", p.RootCid(), err)
	}
	cid := p.RootCid().String()
	s.logger.DebugContext(ctx, "stored blob in ipfs", "cid", cid, "bytes", len(data))
	return cid, nil
}

// Ping checks the node answers RPC calls.
func (s *Store) Ping(ctx context.Context) error {
	return s.api.Self(ctx)
}

// NormalizeURL converts multiaddr and bare host:port forms to an http URL.
func NormalizeURL(apiURL string) (string, error) {
	switch {
	case apiURL == "":
		return "http://127.0.0.1:5001", nil
	case strings.HasPrefix(apiURL, "/"):
		return multiaddrURL(apiURL)
	case strings.HasPrefix(apiURL, "http://"), strings.HasPrefix(apiURL, "https://"):
		return apiURL, nil
	default:
		return "http://" + apiURL, nil
	}
}

// multiaddrURL maps /ip4, /ip6 and /dns* addresses with a /tcp port to a URL.
// A trailing /https or /tls selects https.
func multiaddrURL(s string) (string, error) {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return "", fmt.Errorf("parse ipfs multiaddr %q: %w", s, err)
	}
	port, err := addr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("ipfs multiaddr %q has no tcp port", s)
	}
	scheme := "http"
	for _, code := range []int{ma.P_HTTPS, ma.P_TLS} {
		if _, err := addr.ValueForProtocol(code); err == nil {
			scheme = "https"
		}
	}
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6} {
		if host, err := addr.ValueForProtocol(code); err == nil {
			return scheme + "://" + net.JoinHostPort(host, port), nil
		}
	}
	return "", fmt.Errorf("ipfs multiaddr %q has no ip or dns host", s)
}

type kuboAPI struct {
	api *ipfsApi.HttpApi
}

func (k kuboAPI) Add(ctx context.Context, data []byte) (path.ImmutablePath, error) {
	return k.api.Unixfs().Add(ctx, files.NewBytesFile(data), options.Unixfs.CidVersion(1))
}

func (k kuboAPI) Pin(ctx context.Context, p path.Path) error {
	return k.api.Pin().Add(ctx, p)
}

func (k kuboAPI) Self(ctx context.Context) error {
	_, err := k.api.Key().Self(ctx)
	return err
}
