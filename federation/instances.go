package federation

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/quillhost/quill/domain"
)

// PersistInstance records the remote server behind host, discovering its
// software via nodeinfo on a best-effort basis. With skipUpdate an existing
// row is returned untouched, which keeps cheap paths free of network probes.
func (s *Service) PersistInstance(host string, skipUpdate bool) (*domain.Instance, error) {
	if strings.Contains(host, "@") {
		return nil, fmt.Errorf("invalid instance host: %s", host)
	}

	err, existing := s.Db.ReadInstanceByHost(host)
	if skipUpdate && err == nil && existing != nil {
		return existing, nil
	}

	now := time.Now()
	inst := &domain.Instance{
		Host:      host,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		inst.CreatedAt = existing.CreatedAt
	}

	// Discovery failure stores a null software name, never an error.
	software, version, err := s.discoverNodeInfo(host)
	if err != nil {
		log.Printf("Instance: nodeinfo discovery for %s failed: %v", host, err)
	} else {
		inst.Software = software
		inst.SoftwareVersion = NormalizeVersion(version)
	}

	if err := s.Db.UpsertInstance(inst); err != nil {
		return nil, fmt.Errorf("failed to persist instance: %w", err)
	}
	return inst, nil
}

// discoverNodeInfo walks the well-known nodeinfo index to the schema
// document and reads the software name and version.
func (s *Service) discoverNodeInfo(host string) (string, string, error) {
	var index struct {
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := s.fetchJSON(fmt.Sprintf("https://%s/.well-known/nodeinfo", host), &index); err != nil {
		return "", "", err
	}

	var href string
	for _, link := range index.Links {
		if strings.Contains(link.Rel, "http://nodeinfo.diaspora.software/ns/schema/2.") {
			href = link.Href
		}
	}
	if href == "" {
		return "", "", fmt.Errorf("no nodeinfo schema link for %s", host)
	}

	var doc struct {
		Software struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"software"`
	}
	if err := s.fetchJSON(href, &doc); err != nil {
		return "", "", err
	}
	if doc.Software.Name == "" {
		return "", "", fmt.Errorf("nodeinfo for %s has no software name", host)
	}
	return doc.Software.Name, doc.Software.Version, nil
}

// NormalizeVersion reduces a reported version string to exactly three
// dot-separated numeric components, left-padded with zero components
// ("4.2" becomes "0.4.2"). Malformed or missing versions normalize to the
// empty string so the UI never shows a bogus "0.0.0".
func NormalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return ""
	}

	parts := strings.Split(version, ".")
	if len(parts) > 3 {
		return ""
	}
	for _, part := range parts {
		if part == "" {
			return ""
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return ""
			}
		}
	}
	for len(parts) < 3 {
		parts = append([]string{"0"}, parts...)
	}
	return strings.Join(parts, ".")
}

// fetchJSON GETs a JSON document with a bounded body size.
func (s *Service) fetchJSON(url string, out interface{}) error {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s failed with status: %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return json.Unmarshal(body, out)
}
