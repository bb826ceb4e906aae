// Package geo resolves addresses to country codes from flat CIDR zone
// files and checks addresses against a configured country block list.
package geo

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const UnknownCountry = "Unknown"

// prefix is a single parsed zone-file entry.
type prefix struct {
	network *net.IPNet
	country string
	ones    int // prefix length, used for longest-prefix-match ordering
}

// Resolver holds the loaded zone prefixes and blocked-country set. Zero
// value is not usable; construct with New.
type Resolver struct {
	mu            sync.RWMutex
	prefixes      []prefix
	blocked       map[string]struct{}
	zonesDir      string
	blockListPath string
}

// New loads every *.zone file under zonesDir (file stem is the ISO
// country code) and the country codes listed in blockListPath, then
// returns a ready Resolver.
func New(zonesDir, blockListPath string) (*Resolver, error) {
	r := &Resolver{zonesDir: zonesDir, blockListPath: blockListPath}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads both the zone files and the country block list,
// replacing the in-memory table atomically under write lock.
func (r *Resolver) Reload() error {
	prefixes, err := loadZones(r.zonesDir)
	if err != nil {
		return fmt.Errorf("load zones: %w", err)
	}
	blocked, err := loadCountryList(r.blockListPath)
	if err != nil {
		return fmt.Errorf("load country block list: %w", err)
	}

	r.mu.Lock()
	r.prefixes = prefixes
	r.blocked = blocked
	r.mu.Unlock()
	return nil
}

// CountryOf returns the country of the first (longest-matching) prefix
// that contains addr, or UnknownCountry if none does.
func (r *Resolver) CountryOf(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return UnknownCountry
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.prefixes {
		if p.network.Contains(ip) {
			return p.country
		}
	}
	return UnknownCountry
}

// IsBlockedCountry reports whether addr resolves to a country present
// in the configured block list.
func (r *Resolver) IsBlockedCountry(addr string) bool {
	country := r.CountryOf(addr)
	if country == UnknownCountry {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, blocked := r.blocked[country]
	return blocked
}

func loadZones(dir string) ([]prefix, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var prefixes []prefix
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zone") {
			continue
		}
		country := strings.ToUpper(strings.TrimSuffix(entry.Name(), ".zone"))
		ps, err := parseZoneFile(filepath.Join(dir, entry.Name()), country)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, ps...)
	}

	sort.SliceStable(prefixes, func(i, j int) bool {
		return prefixes[i].ones > prefixes[j].ones
	})
	return prefixes, nil
}

func parseZoneFile(path, country string) ([]prefix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []prefix
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "/") {
			line += "/32"
			if strings.Contains(line, ":") {
				line = strings.TrimSuffix(line, "/32") + "/128"
			}
		}
		_, network, err := net.ParseCIDR(line)
		if err != nil {
			continue
		}
		ones, _ := network.Mask.Size()
		out = append(out, prefix{network: network, country: country, ones: ones})
	}
	return out, scanner.Err()
}

func loadCountryList(path string) (map[string]struct{}, error) {
	blocked := make(map[string]struct{})
	if path == "" {
		return blocked, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return blocked, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		blocked[strings.ToUpper(line)] = struct{}{}
	}
	return blocked, scanner.Err()
}
