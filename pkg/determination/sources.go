package determination

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/gateway/httpclient"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gopkg.in/yaml.v3"
)

const (
	KindHTTP   = "http"
	KindStatic = "static"
)

type Source struct {
	Kind            string `yaml:"kind" json:"kind"`
	URL             string `yaml:"url" json:"url"`
	NotFoundOutcome string `yaml:"not_found_outcome" json:"not_found_outcome"`
	Status          string `yaml:"status" json:"status"`
	Attempts        int    `yaml:"attempts" json:"attempts"`
}

type Sources struct {
	Sources map[string]Source `yaml:"sources" json:"sources"`
}

// LoadSources reads the per-type source file. Keys accept the same spellings as the API paths.
func LoadSources(path string) (Sources, error) {
	if path == "" {
		return DefaultSources(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Sources{}, err
	}
	var src Sources
	if err := yaml.Unmarshal(content, &src); err != nil {
		return Sources{}, err
	}
	if len(src.Sources) == 0 {
		return Sources{}, fmt.Errorf("no determination sources configured")
	}
	for key := range src.Sources {
		if _, ok := models.ParseCheckType(key); !ok {
			return Sources{}, fmt.Errorf("unknown check type %q in determination sources", key)
		}
	}
	return src, nil
}

// DefaultSources leaves every type unresolvable; records land in error until a source is configured.
func DefaultSources() Sources {
	out := Sources{Sources: map[string]Source{}}
	for _, t := range models.CheckTypes() {
		out.Sources[string(t)] = Source{Kind: KindStatic, Status: string(models.StatusError)}
	}
	return out
}

type Options struct {
	Timeout      time.Duration
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Build turns the source file into a registry. HTTP sources share one client, authenticated with
// client credentials when a token URL is set.
func Build(ctx context.Context, sources Sources, opts Options) (*Registry, error) {
	client := httpclient.New(opts.Timeout)
	if opts.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
		}
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, httpclient.New(opts.Timeout))
		client.Transport = &oauth2.Transport{
			Source: cc.TokenSource(tokenCtx),
			Base:   client.Transport,
		}
	}

	resolvers := make(map[models.CheckType]Resolver, len(sources.Sources))
	for key, src := range sources.Sources {
		checkType, ok := models.ParseCheckType(key)
		if !ok {
			return nil, fmt.Errorf("unknown check type %q", key)
		}
		resolver, err := newResolver(checkType, src, client)
		if err != nil {
			return nil, err
		}
		resolvers[checkType] = resolver
	}
	return NewRegistry(resolvers), nil
}

func newResolver(checkType models.CheckType, src Source, client *http.Client) (Resolver, error) {
	switch src.Kind {
	case KindStatic:
		status := models.CheckStatus(src.Status)
		if !status.IsOutcome() {
			return nil, fmt.Errorf("%s: static status %q is not an outcome", checkType, src.Status)
		}
		reason := ""
		if status == models.StatusError {
			reason = "no determination source configured"
		}
		return Static{Status: status, Reason: reason}, nil
	case KindHTTP, "":
		if src.URL == "" {
			return nil, fmt.Errorf("%s: http source requires a url", checkType)
		}
		notFound := models.StatusNotFound
		if src.NotFoundOutcome != "" {
			notFound = models.CheckStatus(src.NotFoundOutcome)
		}
		if notFound != models.StatusNotFound && notFound != models.StatusParentNotFound {
			return nil, fmt.Errorf("%s: not_found_outcome must be notFound or parentNotFound", checkType)
		}
		return NewHTTPResolver(string(checkType), src.URL, notFound, src.Attempts, client), nil
	default:
		return nil, fmt.Errorf("%s: unknown source kind %q", checkType, src.Kind)
	}
}
