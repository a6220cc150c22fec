// Package feed parses PubSubHubbub Atom notifications sent for YouTube channels.
package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/models"
)

const (
	NamespaceAtom       = "http://www.w3.org/2005/Atom"
	NamespaceYouTube    = "http://www.youtube.com/xml/schemas/2015"
	NamespaceTombstones = "http://purl.org/atompub/tombstones/1.0"

	videoRefPrefix = "yt:video:"
	watchURL       = "https://www.youtube.com/watch?v="
	channelURL     = "/channel/"
)

type atomFeed struct {
	XMLName xml.Name       `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []atomEntry    `xml:"http://www.w3.org/2005/Atom entry"`
	Deleted []deletedEntry `xml:"http://purl.org/atompub/tombstones/1.0 deleted-entry"`
}

type atomEntry struct {
	ID        string     `xml:"http://www.w3.org/2005/Atom id"`
	VideoID   string     `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string     `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title     string     `xml:"http://www.w3.org/2005/Atom title"`
	Links     []atomLink `xml:"http://www.w3.org/2005/Atom link"`
	Author    atomPerson `xml:"http://www.w3.org/2005/Atom author"`
	Published string     `xml:"http://www.w3.org/2005/Atom published"`
	Updated   string     `xml:"http://www.w3.org/2005/Atom updated"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type atomPerson struct {
	Name string `xml:"name"`
	URI  string `xml:"uri"`
}

type deletedEntry struct {
	Ref  string     `xml:"ref,attr"`
	When string     `xml:"when,attr"`
	By   atomPerson `xml:"http://purl.org/atompub/tombstones/1.0 by"`
}

// Parse extracts the video update carried by a notification. A feed without any
// entry yields nil, nil. Every other unusable payload is ErrMalformedInput.
//
// A deletion notice without a timestamp has a zero UpdatedAt; callers fill it in.
func Parse(raw []byte) (*models.VideoUpdate, error) {
	var feed atomFeed
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&feed); err != nil {
		return nil, malformed("not an atom feed: %v", err)
	}

	if len(feed.Deleted) > 0 {
		return parseDeletedEntry(feed.Deleted[0])
	}
	if len(feed.Entries) == 0 {
		return nil, nil
	}
	return parseEntry(feed.Entries[0])
}

func parseDeletedEntry(d deletedEntry) (*models.VideoUpdate, error) {
	videoID := strings.TrimPrefix(strings.TrimSpace(d.Ref), videoRefPrefix)
	if videoID == "" || videoID == strings.TrimSpace(d.Ref) {
		return nil, malformed("deleted-entry ref %q does not name a video", d.Ref)
	}

	update := &models.VideoUpdate{
		VideoID:    videoID,
		ChannelID:  channelFromURI(d.By.URI),
		IsDeletion: true,
	}

	if when := strings.TrimSpace(d.When); when != "" {
		ts, err := parseTime(when)
		if err != nil {
			return nil, malformed("deleted-entry when %q: %v", when, err)
		}
		update.UpdatedAt = ts
	}
	return update, nil
}

func parseEntry(e atomEntry) (*models.VideoUpdate, error) {
	videoID := strings.TrimSpace(e.VideoID)
	channelID := strings.TrimSpace(e.ChannelID)

	// An entry reduced to its id is how some hubs announce a removal.
	if videoID == "" && channelID == "" && strings.HasPrefix(strings.TrimSpace(e.ID), videoRefPrefix) {
		update := &models.VideoUpdate{
			VideoID:    strings.TrimPrefix(strings.TrimSpace(e.ID), videoRefPrefix),
			IsDeletion: true,
		}
		if ts, err := entryTime(e); err == nil {
			update.UpdatedAt = ts
		}
		return update, nil
	}

	if videoID == "" {
		return nil, malformed("entry has no yt:videoId")
	}
	if channelID == "" {
		return nil, malformed("entry %s has no yt:channelId", videoID)
	}

	updatedAt, err := entryTime(e)
	if err != nil {
		return nil, malformed("entry %s: %v", videoID, err)
	}

	var publishedAt time.Time
	if published := strings.TrimSpace(e.Published); published != "" {
		publishedAt, err = parseTime(published)
		if err != nil {
			return nil, malformed("entry %s published %q: %v", videoID, published, err)
		}
	}

	return &models.VideoUpdate{
		VideoID:      videoID,
		ChannelID:    channelID,
		Title:        strings.TrimSpace(e.Title),
		CanonicalURL: canonicalURL(e.Links, videoID),
		ChannelName:  strings.TrimSpace(e.Author.Name),
		PublishedAt:  publishedAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// entryTime is <updated>, falling back to <published>.
func entryTime(e atomEntry) (time.Time, error) {
	for _, value := range []string{e.Updated, e.Published} {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if ts, err := parseTime(value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("no parsable updated or published timestamp")
}

func parseTime(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func canonicalURL(links []atomLink, videoID string) string {
	for _, l := range links {
		if l.Rel == "alternate" && l.Href != "" {
			return l.Href
		}
	}
	for _, l := range links {
		if l.Href != "" {
			return l.Href
		}
	}
	return watchURL + videoID
}

func channelFromURI(uri string) string {
	uri = strings.TrimSpace(uri)
	if i := strings.LastIndex(uri, channelURL); i >= 0 {
		return strings.Trim(uri[i+len(channelURL):], "/")
	}
	return ""
}

func malformed(format string, args ...interface{}) error {
	return apperrors.ErrMalformedInput.WithCause(fmt.Errorf(format, args...))
}

// WellFormed reports whether raw is a single well-formed XML document with a root element.
func WellFormed(raw []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return fmt.Errorf("more than one root element")
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return fmt.Errorf("text outside the root element")
			}
		}
	}
	if roots == 0 {
		return fmt.Errorf("no root element")
	}
	return nil
}
