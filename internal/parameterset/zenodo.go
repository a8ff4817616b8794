package parameterset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/ewatercycle/ewatercycle-go/internal/platform/env"
)

// ZenodoDownloader unpacks the first file of a Zenodo record.
type ZenodoDownloader struct {
	DOI string
	// Token is a personal access token, needed for restricted records.
	Token string

	// BaseURL defaults to https://zenodo.org.
	BaseURL    string
	HTTPClient *http.Client
}

// NewZenodoDownloader reads the access token from EWATERCYCLE_ZENODO_TOKEN.
func NewZenodoDownloader(doi string) ZenodoDownloader {
	return ZenodoDownloader{DOI: doi, Token: strings.TrimSpace(env.String("EWATERCYCLE_ZENODO_TOKEN", ""))}
}

// RecordID extracts 7949784 from 10.5281/zenodo.7949784.
func (d ZenodoDownloader) RecordID() (string, error) {
	doi := strings.TrimSpace(d.DOI)
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	i := strings.LastIndex(doi, ".")
	if i < 0 || i == len(doi)-1 {
		return "", fmt.Errorf("invalid zenodo doi %q", d.DOI)
	}
	id := doi[i+1:]
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid zenodo doi %q", d.DOI)
		}
	}
	return id, nil
}

type zenodoRecord struct {
	Files []struct {
		Key   string `json:"key"`
		Links struct {
			Self string `json:"self"`
		} `json:"links"`
	} `json:"files"`
}

func (d ZenodoDownloader) Download(ctx context.Context, dir string) error {
	id, err := d.RecordID()
	if err != nil {
		return err
	}
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	if d.Token != "" {
		ctx := context.WithValue(ctx, oauth2.HTTPClient, client)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: d.Token, TokenType: "Bearer"}))
	}
	base := strings.TrimRight(d.BaseURL, "/")
	if base == "" {
		base = "https://zenodo.org"
	}

	var buf bytes.Buffer
	if err := fetch(ctx, client, base+"/api/records/"+id, &buf); err != nil {
		return fmt.Errorf("zenodo record %s: %w", id, err)
	}
	var rec zenodoRecord
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		return fmt.Errorf("parse zenodo record %s: %w", id, err)
	}
	if len(rec.Files) == 0 || rec.Files[0].Links.Self == "" {
		return errors.New("zenodo record " + id + " has no files")
	}
	// A record can hold several files; the first one is the parameter set.
	return downloadAndExtract(ctx, client, rec.Files[0].Links.Self, dir)
}
