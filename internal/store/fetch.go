package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/proteosurf/proteosurf/internal/models"
)

const (
	rcsbDownloadURL  = "https://files.rcsb.org/download"
	alphafoldAPIURL  = "https://alphafold.ebi.ac.uk/api/prediction"
	maxStructureSize = 64 << 20
)

// Fetcher retrieves raw structure text for an accession from one upstream
// database. Implementations return NotFoundError for unknown accessions.
type Fetcher interface {
	Fetch(ctx context.Context, accession string) (raw string, err error)
}

// RCSBFetcher downloads deposited entries by 4-character PDB id.
type RCSBFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewRCSBFetcher uses the public RCSB download endpoint.
func NewRCSBFetcher(timeout time.Duration) *RCSBFetcher {
	return &RCSBFetcher{
		BaseURL: rcsbDownloadURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (f *RCSBFetcher) Fetch(ctx context.Context, accession string) (string, error) {
	url := fmt.Sprintf("%s/%s.pdb", f.BaseURL, strings.ToUpper(accession))
	return fetchText(ctx, f.Client, url, models.SourceRCSB, accession)
}

// AlphaFoldFetcher resolves a UniProt accession through the AlphaFold
// prediction API and downloads the model PDB it points at.
type AlphaFoldFetcher struct {
	APIURL string
	Client *http.Client
}

func NewAlphaFoldFetcher(timeout time.Duration) *AlphaFoldFetcher {
	return &AlphaFoldFetcher{
		APIURL: alphafoldAPIURL,
		Client: &http.Client{Timeout: timeout},
	}
}

type alphafoldEntry struct {
	EntryID  string  `json:"entryId"`
	Gene     string  `json:"gene"`
	Organism string  `json:"organismScientificName"`
	PDBURL   string  `json:"pdbUrl"`
	Metric   float64 `json:"globalMetricValue"`
}

func (f *AlphaFoldFetcher) Fetch(ctx context.Context, accession string) (string, error) {
	url := fmt.Sprintf("%s/%s", f.APIURL, strings.ToUpper(accession))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("alphafold api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", &NotFoundError{Source: models.SourceAlphaFold, Accession: accession}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("alphafold api: status %d", resp.StatusCode)
	}

	var entries []alphafoldEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStructureSize)).Decode(&entries); err != nil {
		return "", fmt.Errorf("alphafold api: decode: %w", err)
	}
	if len(entries) == 0 || entries[0].PDBURL == "" {
		return "", &NotFoundError{Source: models.SourceAlphaFold, Accession: accession}
	}

	return fetchText(ctx, f.Client, entries[0].PDBURL, models.SourceAlphaFold, accession)
}

func fetchText(ctx context.Context, client *http.Client, url string, source models.Source, accession string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", &NotFoundError{Source: source, Accession: accession}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStructureSize))
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	return string(data), nil
}
