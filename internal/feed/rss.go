package feed

import (
	"github.com/gorilla/feeds"

	"govscope/internal/model"
)

// renderRSS renders the feed document as RSS 2.0.
func renderRSS(doc model.FeedDocument) (string, error) {
	out := &feeds.Feed{
		Title:       doc.Title,
		Link:        &feeds.Link{Href: doc.Link},
		Description: doc.Description,
	}

	for _, item := range doc.Items {
		out.Items = append(out.Items, &feeds.Item{
			Title:       item.Title,
			Link:        &feeds.Link{Href: item.Link},
			Description: item.Description,
			Id:          item.GUID,
			Author:      &feeds.Author{Name: item.Author},
			Created:     item.PubDate,
		})
	}

	if len(doc.Items) > 0 {
		out.Created = doc.Items[0].PubDate
	}
	return out.ToRss()
}
