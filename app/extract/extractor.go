package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"golang.org/x/text/unicode/norm"

	"github.com/communitypulse/forum-pulse/app/fetch"
	"github.com/communitypulse/forum-pulse/app/source"
)

const (
	maxBodyRunes    = 2000
	maxExcerptRunes = 500
)

// CandidatePost is a normalized but unconfirmed record, produced here and
// consumed by the deduplicator.
type CandidatePost struct {
	SourceID string
	RemoteID string
	URL      string
	Title    string
	Body     string
	Excerpt  string
	Author   string
	Category string
	PostedAt *time.Time
}

// ParseError reports a malformed page. Non-fatal to a run: logged, counted,
// and the source continues with its remaining pages.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Extractor struct {
	feedParser *gofeed.Parser
}

func NewExtractor() *Extractor {
	return &Extractor{
		feedParser: gofeed.NewParser(),
	}
}

// Links extracts post detail URLs from an HTML listing page using the
// source's listing_link selector, resolved against the page URL.
func (e *Extractor) Links(page *fetch.RawPage, src *source.Config) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &ParseError{URL: page.URL, Err: err}
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, &ParseError{URL: page.URL, Err: err}
	}

	seen := make(map[string]struct{})
	var links []string

	doc.Find(src.Rules.ListingLink).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}

		resolved := base.ResolveReference(ref).String()
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})

	return links, nil
}

// ListingPosts extracts candidates directly from an RSS/Atom listing page.
// Sources in RSS mode need no detail-page fetches.
func (e *Extractor) ListingPosts(page *fetch.RawPage, src *source.Config) ([]CandidatePost, error) {
	feed, err := e.feedParser.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &ParseError{URL: page.URL, Err: err}
	}

	posts := make([]CandidatePost, 0, len(feed.Items))
	for _, item := range feed.Items {
		title := cleanText(item.Title)
		if title == "" {
			continue
		}

		raw := item.Content
		if raw == "" {
			raw = item.Description
		}
		body := truncateRunes(cleanText(stripTags(raw)), maxBodyRunes)

		remoteID := item.GUID
		if remoteID == "" {
			remoteID = item.Link
		}
		if remoteID == "" {
			continue
		}

		post := CandidatePost{
			SourceID: src.Source.ID,
			RemoteID: remoteID,
			URL:      item.Link,
			Title:    truncateRunes(title, maxExcerptRunes),
			Body:     body,
			Excerpt:  truncateRunes(body, maxExcerptRunes),
			Category: src.Source.Category,
		}

		if len(item.Authors) > 0 && item.Authors[0] != nil {
			post.Author = cleanText(item.Authors[0].Name)
		}
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			post.PostedAt = &t
		}

		posts = append(posts, post)
	}

	return posts, nil
}

// Post extracts zero or one candidate from an HTML detail page. A page that
// yields no valid post returns nil without error.
func (e *Extractor) Post(page *fetch.RawPage, src *source.Config) (*CandidatePost, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &ParseError{URL: page.URL, Err: err}
	}

	title := cleanText(doc.Find(src.Rules.Title).First().Text())
	if title == "" {
		// og:title fallback before giving up on the page.
		title = cleanText(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	}
	if title == "" {
		return nil, nil
	}

	body := cleanText(doc.Find(src.Rules.Body).First().Text())
	if body == "" {
		body = e.readableBody(page)
	}
	if body == "" {
		body = cleanText(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	}
	body = truncateRunes(body, maxBodyRunes)

	post := &CandidatePost{
		SourceID: src.Source.ID,
		RemoteID: e.remoteID(doc, page.URL, src),
		URL:      page.URL,
		Title:    truncateRunes(title, maxExcerptRunes),
		Body:     body,
		Excerpt:  truncateRunes(body, maxExcerptRunes),
		Author:   cleanText(doc.Find(src.Rules.Author).First().Text()),
		Category: src.Source.Category,
	}

	if post.RemoteID == "" {
		return nil, &ParseError{URL: page.URL, Err: fmt.Errorf("no remote id derivable")}
	}

	if ts := e.postedAt(doc, src); ts != nil {
		post.PostedAt = ts
	}

	return post, nil
}

func (e *Extractor) remoteID(doc *goquery.Document, pageURL string, src *source.Config) string {
	if src.Rules.RemoteID != "" {
		sel := doc.Find(src.Rules.RemoteID).First()
		if src.Rules.RemoteIDAttr != "" {
			if v := strings.TrimSpace(sel.AttrOr(src.Rules.RemoteIDAttr, "")); v != "" {
				return v
			}
		} else if v := cleanText(sel.Text()); v != "" {
			return v
		}
	}

	// Fall back to the last path segment of the post URL.
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	path := strings.TrimSuffix(parsed.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func (e *Extractor) postedAt(doc *goquery.Document, src *source.Config) *time.Time {
	if src.Rules.PostedAt == "" {
		return nil
	}

	sel := doc.Find(src.Rules.PostedAt).First()
	raw := ""
	if src.Rules.PostedAtAttr != "" {
		raw = sel.AttrOr(src.Rules.PostedAtAttr, "")
	} else {
		raw = sel.Text()
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parsed, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	t := parsed.UTC()
	return &t
}

func (e *Extractor) readableBody(page *fetch.RawPage) string {
	pageURL, _ := url.Parse(page.URL)
	article, err := readability.FromReader(bytes.NewReader(page.Body), pageURL)
	if err != nil {
		return ""
	}
	return cleanText(article.TextContent)
}

// cleanText collapses whitespace and applies NFC normalization so identical
// raw input always yields an identical candidate.
func cleanText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

// stripTags removes markup from RSS descriptions that embed HTML.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}
