package discovery

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/fetcher"
	"github.com/sells-group/prospect-engine/internal/model"
)

// columnAliases maps normalized header names to RawCandidate fields.
var columnAliases = map[string]string{
	"name":         "name",
	"fullname":     "name",
	"contactname":  "name",
	"contact":      "name",
	"firstname":    "first_name",
	"lastname":     "last_name",
	"company":      "company",
	"companyname":  "company",
	"organization": "company",
	"organisation": "company",
	"business":     "company",
	"title":        "title",
	"jobtitle":     "title",
	"position":     "title",
	"role":         "title",
	"industry":     "industry",
	"sector":       "industry",
	"location":     "location",
	"city":         "location",
	"address":      "location",
	"email":        "email",
	"emailaddress": "email",
	"phone":        "phone",
	"phonenumber":  "phone",
	"mobile":       "phone",
	"whatsapp":     "phone",
	"profileurl":   "profile_url",
	"profile":      "profile_url",
	"linkedin":     "profile_url",
	"linkedinurl":  "profile_url",
	"instagram":    "profile_url",
	"website":      "website",
	"domain":       "website",
	"site":         "website",
	"companysize":  "company_size",
	"employees":    "company_size",
	"size":         "company_size",
	"summary":      "summary",
	"description":  "summary",
	"about":        "summary",
	"channel":      "channel",
}

// FileSource reads prospect lists from CSV, XLSX, JSON or YAML files. Paths
// may be local or http(s)/ftp URLs.
type FileSource struct {
	opener *fetcher.Opener
	paths  []string
}

// NewFileSource creates a FileSource over the given locations.
func NewFileSource(opener *fetcher.Opener, paths []string) *FileSource {
	return &FileSource{opener: opener, paths: paths}
}

// Name implements Source.
func (s *FileSource) Name() string { return "file_import" }

// Search implements Source. Rows whose industry is set and unrelated to the
// requested one are dropped.
func (s *FileSource) Search(ctx context.Context, params Params) ([]RawCandidate, error) {
	var (
		out  []RawCandidate
		errs []error
	)
	for _, loc := range s.paths {
		records, err := s.read(ctx, loc)
		if err != nil {
			zap.L().Warn("file source: read failed", zap.String("path", loc), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		for _, rec := range records {
			c := candidateFromRecord(rec)
			c.Source = s.Name()
			if c.Industry != "" && !industryRelated(c.Industry, params.Industry) {
				continue
			}
			out = append(out, c)
		}
	}
	if len(errs) > 0 && len(errs) == len(s.paths) {
		return nil, eris.Wrap(errors.Join(errs...), "file source: no readable files")
	}
	return out, nil
}

func (s *FileSource) read(ctx context.Context, loc string) ([]map[string]string, error) {
	rc, err := s.opener.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	return readRecords(ctx, loc, rc)
}

func readRecords(ctx context.Context, loc string, r io.Reader) ([]map[string]string, error) {
	if i := strings.IndexAny(loc, "?#"); i >= 0 {
		loc = loc[:i]
	}
	switch ext := strings.ToLower(path.Ext(loc)); ext {
	case ".csv", "":
		return fetcher.ReadCSVRecords(ctx, r)
	case ".xlsx":
		return fetcher.ReadXLSXRecords(r)
	case ".json":
		return fetcher.ReadJSONRecords(ctx, r)
	case ".yaml", ".yml":
		return fetcher.ReadYAMLRecords(r)
	default:
		return nil, eris.Errorf("file source: unsupported format %q", ext)
	}
}

func candidateFromRecord(rec map[string]string) RawCandidate {
	fields := make(map[string]string, len(rec))
	for k, v := range rec {
		if f, ok := columnAliases[normalizeHeader(k)]; ok && fields[f] == "" {
			fields[f] = strings.TrimSpace(v)
		}
	}

	name := fields["name"]
	if name == "" {
		name = strings.TrimSpace(fields["first_name"] + " " + fields["last_name"])
	}
	return RawCandidate{
		Name:        name,
		Company:     fields["company"],
		Title:       fields["title"],
		Industry:    fields["industry"],
		Location:    fields["location"],
		Email:       fields["email"],
		Phone:       fields["phone"],
		ProfileURL:  fields["profile_url"],
		Website:     fields["website"],
		CompanySize: fields["company_size"],
		Summary:     fields["summary"],
		Channel:     model.Channel(strings.ToLower(fields["channel"])),
	}
}

func normalizeHeader(h string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '.':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(h)))
}

// industryRelated is a case-insensitive substring match in either direction.
func industryRelated(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
