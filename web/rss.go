package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/feeds"
)

const rssFeedSize = 50

// GetRSS builds the RSS feed of a blog's published posts.
func (h *Handler) GetRSS(slug string) (string, error) {
	if slug == "" {
		return "", errors.New("missing blog slug")
	}

	err, blog := h.Service.Db.ReadBlogBySlug(slug)
	if err != nil || blog == nil {
		log.Printf("Could not get blog %s: %v", slug, err)
		return "", errors.New("error retrieving blog by slug")
	}

	err, posts := h.Service.Db.ReadPublishedPostsByBlogId(blog.Id, rssFeedSize)
	if err != nil {
		log.Printf("Could not get posts for %s: %v", slug, err)
		return "", errors.New("error retrieving posts")
	}

	link := fmt.Sprintf("https://%s/feed?blog=%s", h.Conf.Conf.SslDomain, blog.Slug)
	feed := &feeds.Feed{
		Title:       blog.Title,
		Link:        &feeds.Link{Href: link},
		Description: blog.Description,
		Author:      &feeds.Author{Name: blog.Slug},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	if posts != nil {
		for _, post := range *posts {
			created := post.CreatedAt
			if post.FirstPublishedAt != nil {
				created = *post.FirstPublishedAt
			}
			feedItems = append(feedItems,
				&feeds.Item{
					Id:      post.Id.String(),
					Title:   post.Title,
					Link:    &feeds.Link{Href: post.ObjectURI},
					Content: post.Content,
					Author:  &feeds.Author{Name: blog.Slug},
					Created: created,
				})
		}
	}

	feed.Items = feedItems
	return feed.ToRss()
}
