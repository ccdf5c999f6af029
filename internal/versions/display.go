package versions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	FallbackVersion = "v2.1.0"
	webSuffix       = " Web"

	DateUnavailable = "date unavailable"
	InvalidDate     = "invalid date"

	// GroupPreviewSize is how many records a major-version group shows.
	GroupPreviewSize = 8
	pageTagLimit     = 100
)

// Badge is a landing page version label.
type Badge struct {
	Text        string `json:"text"`
	Title       string `json:"title,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Fallback    bool   `json:"fallback"`
}

type Landing struct {
	Desktop Badge `json:"desktop"`
	Web     Badge `json:"web"`
}

// WebVersion is the web product card on the versions page.
type WebVersion struct {
	Version     string `json:"version"`
	Date        string `json:"date"`
	Description string `json:"description"`
	URL         string `json:"url"`
	AppURL      string `json:"app_url,omitempty"`
	Fallback    bool   `json:"fallback"`
}

type RecordView struct {
	Version     string `json:"version"`
	Date        string `json:"date"`
	ZipballURL  string `json:"zipball_url,omitempty"`
	TarballURL  string `json:"tarball_url,omitempty"`
	LatestInSet bool   `json:"latest_in_group"`
}

type GroupView struct {
	Major       int          `json:"major"`
	Title       string       `json:"title"`
	LatestMajor bool         `json:"latest_major"`
	Description string       `json:"description"`
	Records     []RecordView `json:"records"`
	Hidden      int          `json:"hidden"`
	Download    RecordView   `json:"download"`
}

// Page is the versions page. Available is false when the desktop tag list could not be
// loaded or held no versions; the page then shows only its error state.
type Page struct {
	Available  bool        `json:"available"`
	Web        WebVersion  `json:"web"`
	Latest     *RecordView `json:"latest,omitempty"`
	Groups     []GroupView `json:"groups,omitempty"`
	AllTagsURL string      `json:"all_tags_url"`
}

// GitHub is the part of Client the service uses.
type GitHub interface {
	LatestRelease(ctx context.Context, repo Repo) (Release, error)
	Tags(ctx context.Context, repo Repo, perPage int) ([]Tag, error)
	CommitDate(ctx context.Context, commitURL string) (string, error)
}

type ServiceConfig struct {
	Desktop   Repo
	Web       Repo
	WebAppURL string
	// RefreshAfter is how long a resolved badge or page section is served before the
	// next request fetches it again.
	RefreshAfter time.Duration
}

const defaultRefreshAfter = 10 * time.Minute

// Service resolves the landing badges and the versions page. Its lookups live as long
// as the service, so concurrent requests share one fetch per section.
type Service struct {
	github GitHub
	cfg    ServiceConfig
	logger *zap.Logger

	desktopBadgeLookup *Lookup[Badge]
	webBadgeLookup     *Lookup[Badge]
	recordsLookup      *Lookup[[]Record]
	webVersionLookup   *Lookup[WebVersion]
}

func NewService(gh GitHub, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefreshAfter <= 0 {
		cfg.RefreshAfter = defaultRefreshAfter
	}
	return &Service{
		github: gh,
		cfg:    cfg,
		logger: logger,
		desktopBadgeLookup: NewLookup(Badge{
			Text:        FallbackVersion,
			Title:       "Download latest version",
			DownloadURL: cfg.Desktop.HTMLURL() + "/releases/latest",
			Fallback:    true,
		}).RefreshAfter(cfg.RefreshAfter),
		webBadgeLookup: NewLookup(Badge{Text: FallbackVersion + webSuffix, Fallback: true}).RefreshAfter(cfg.RefreshAfter),
		recordsLookup:  NewLookup[[]Record](nil).RefreshAfter(cfg.RefreshAfter),
		webVersionLookup: NewLookup(WebVersion{
			Version:     FormatVersionNumber(FallbackVersion),
			Date:        DateUnavailable,
			Description: "Current stable web version",
			URL:         cfg.Web.HTMLURL(),
			AppURL:      cfg.WebAppURL,
			Fallback:    true,
		}).RefreshAfter(cfg.RefreshAfter),
	}
}

// Landing resolves both badges. Desktop and web lookups are independent; each failed
// lookup falls back on its own.
func (s *Service) Landing(ctx context.Context) Landing {
	return Landing{
		Desktop: s.desktopBadgeLookup.Run(ctx, logged(s, "desktop badge", s.desktopBadge)),
		Web:     s.webBadgeLookup.Run(ctx, logged(s, "web badge", s.webBadge)),
	}
}

func (s *Service) desktopBadge(ctx context.Context) (Badge, error) {
	release, err := s.github.LatestRelease(ctx, s.cfg.Desktop)
	if err != nil {
		return Badge{}, err
	}
	badge := Badge{
		Text:  release.TagName,
		Title: "Released: " + FormatDate(release.PublishedAt),
	}
	if release.ZipballURL != "" {
		badge.DownloadURL = release.ZipballURL
	}
	return badge, nil
}

// webBadge tries the latest release, then the newest tag.
func (s *Service) webBadge(ctx context.Context) (Badge, error) {
	release, err := s.github.LatestRelease(ctx, s.cfg.Web)
	if err == nil {
		return Badge{
			Text:  release.TagName + webSuffix,
			Title: "Released: " + FormatDate(release.PublishedAt),
		}, nil
	}

	tags, tagErr := s.github.Tags(ctx, s.cfg.Web, 1)
	if tagErr != nil {
		return Badge{}, errors.Join(err, tagErr)
	}
	if len(tags) == 0 {
		return Badge{}, errors.Join(err, errors.New("no tags found"))
	}
	return Badge{Text: tags[0].Name + webSuffix, Title: "Latest version from tags"}, nil
}

// Page builds the versions page from the desktop tag list plus the web version card.
func (s *Service) Page(ctx context.Context) Page {
	page := Page{AllTagsURL: s.cfg.Desktop.HTMLURL() + "/tags"}

	sorted := s.recordsLookup.Run(ctx, logged(s, "desktop tags", s.desktopRecords))
	page.Web = s.webVersionLookup.Run(ctx, logged(s, "web version", s.webVersion))

	if len(sorted) == 0 {
		return page
	}
	page.Available = true

	groups := GroupByMajor(sorted)
	if latest, ok := Latest(groups); ok {
		view := recordView(latest, false)
		page.Latest = &view
	}

	for i, g := range groups {
		view := GroupView{
			Major:       g.Major,
			Title:       fmt.Sprintf("v%d.x", g.Major),
			LatestMajor: i == 0,
			Description: Description(g.Major, len(g.Records)),
			Download:    recordView(g.Records[0], true),
		}
		shown := g.Records
		if len(shown) > GroupPreviewSize {
			view.Hidden = len(shown) - GroupPreviewSize
			shown = shown[:GroupPreviewSize]
		}
		for j, r := range shown {
			view.Records = append(view.Records, recordView(r, j == 0))
		}
		page.Groups = append(page.Groups, view)
	}
	return page
}

// desktopRecords lists tags and resolves each tag's commit date one at a time. A failed
// date lookup leaves that record undated.
func (s *Service) desktopRecords(ctx context.Context) ([]Record, error) {
	tags, err := s.github.Tags(ctx, s.cfg.Desktop, pageTagLimit)
	if err != nil {
		return nil, err
	}

	raw := make([]Record, 0, len(tags))
	for _, tag := range tags {
		if !Valid(tag.Name) {
			continue
		}
		record := Record{
			Name:       tag.Name,
			ZipballURL: tag.ZipballURL,
			TarballURL: tag.TarballURL,
			CommitURL:  tag.Commit.URL,
		}
		if tag.Commit.URL != "" {
			date, err := s.github.CommitDate(ctx, tag.Commit.URL)
			if err != nil {
				s.logger.Debug("commit date unavailable", zap.String("tag", tag.Name), zap.Error(err))
			} else {
				record.Date = date
			}
		}
		raw = append(raw, record)
	}
	return Process(raw), nil
}

func (s *Service) webVersion(ctx context.Context) (WebVersion, error) {
	release, err := s.github.LatestRelease(ctx, s.cfg.Web)
	if err == nil {
		description := release.Body
		if strings.TrimSpace(description) == "" {
			description = "No release notes available"
		}
		return WebVersion{
			Version:     FormatVersionNumber(release.TagName),
			Date:        FormatDate(release.PublishedAt),
			Description: description,
			URL:         release.HTMLURL,
			AppURL:      s.cfg.WebAppURL,
		}, nil
	}

	tags, tagErr := s.github.Tags(ctx, s.cfg.Web, 1)
	if tagErr != nil {
		return WebVersion{}, errors.Join(err, tagErr)
	}
	if len(tags) == 0 {
		return WebVersion{}, errors.Join(err, errors.New("no tags found"))
	}
	return WebVersion{
		Version:     FormatVersionNumber(tags[0].Name),
		Date:        DateUnavailable,
		Description: "Latest web version from repository tags",
		URL:         s.cfg.Web.HTMLURL() + "/tree/" + tags[0].Name,
		AppURL:      s.cfg.WebAppURL,
	}, nil
}

// logged wraps fetch so a failure is logged once per fetch rather than once per request.
func logged[T any](s *Service, what string, fetch func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		value, err := fetch(ctx)
		if err != nil {
			s.logger.Warn("version lookup failed, using fallback", zap.String("lookup", what), zap.Error(err))
		}
		return value, err
	}
}

func recordView(r Record, latest bool) RecordView {
	return RecordView{
		Version:     FormatVersionNumber(r.Name),
		Date:        FormatDate(r.Date),
		ZipballURL:  r.ZipballURL,
		TarballURL:  r.TarballURL,
		LatestInSet: latest,
	}
}

// FormatVersionNumber adds a leading v when missing.
func FormatVersionNumber(name string) string {
	if strings.HasPrefix(name, "v") {
		return name
	}
	return "v" + name
}

// FormatDate renders an RFC 3339 timestamp as "January 2, 2006".
func FormatDate(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return DateUnavailable
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return InvalidDate
	}
	return t.UTC().Format("January 2, 2006")
}

// Description is the blurb shown under a major-version heading.
func Description(major, count int) string {
	switch major {
	case 5:
		return fmt.Sprintf("Newest line with the most complete feature set. %d releases available.", count)
	case 4:
		return fmt.Sprintf("Previous stable line. %d releases available.", count)
	case 3:
		return fmt.Sprintf("Legacy line, still supported. %d releases available.", count)
	case 2:
		return fmt.Sprintf("Older line kept for compatibility. %d releases available.", count)
	case 1:
		return fmt.Sprintf("Early development line. %d releases available.", count)
	default:
		return fmt.Sprintf("%d releases available for version %d.", count, major)
	}
}
