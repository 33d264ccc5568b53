package requirements

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// DefaultIndex is the primary package index
const DefaultIndex = "https://pypi.org/simple"

// Index lists the distribution files a package index offers for a project
type Index interface {
	// Files returns the file names of all distributions of a project. Unknown projects yield no files.
	Files(ctx context.Context, index, project string) ([]string, error)
}

// SimpleIndex queries the JSON flavour of the simple repository API
type SimpleIndex struct {
	Client *retryablehttp.Client
}

// NewSimpleIndex produces an index client with retries
func NewSimpleIndex() *SimpleIndex {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &SimpleIndex{Client: client}
}

type simpleProject struct {
	Files []struct {
		Filename string      `json:"filename"`
		Yanked   interface{} `json:"yanked"`
	} `json:"files"`
}

// Files implements Index
func (s *SimpleIndex) Files(ctx context.Context, index, project string) ([]string, error) {
	url := strings.TrimSuffix(index, "/") + "/" + NormalizeProject(project) + "/"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.pypi.simple.v1+json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("cannot query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.WithField("project", project).WithField("index", index).Debug("project not found on index")
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("cannot query %s: unexpected status %s", url, resp.Status)
	}

	var prj simpleProject
	err = json.NewDecoder(resp.Body).Decode(&prj)
	if err != nil {
		return nil, xerrors.Errorf("cannot parse index response for %s: %w", project, err)
	}

	res := make([]string, 0, len(prj.Files))
	for _, f := range prj.Files {
		if yanked, ok := f.Yanked.(bool); (ok && yanked) || (f.Yanked != nil && !ok) {
			continue
		}
		res = append(res, f.Filename)
	}
	return res, nil
}
