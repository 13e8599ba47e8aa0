// Package category maps event and task titles to one of the fixed
// categories via ordered keyword matching.
package category

import (
	"strings"

	"calnote/internal/model"
)

// matchOrder is the fixed priority in which categories are checked. The
// first category with a matching keyword wins, so narrower buckets (Rest,
// Meeting) are checked before the broad Focus fallback bucket.
var matchOrder = []model.Category{
	model.CategoryRest,
	model.CategoryMeeting,
	model.CategoryPersonal,
	model.CategoryAdmin,
	model.CategoryFocus,
}

// Classifier assigns categories from per-category keyword lists.
// Unclassified calendar events and unclassified tasks fall back to
// different defaults: calendar entries with no keyword hit are usually
// meetings, while personal tasks are usually focus work.
type Classifier struct {
	keywords        map[model.Category][]string
	defaultForEvent model.Category
	defaultForTask  model.Category
}

// New builds a Classifier. keywords may be nil, in which case every title
// gets the relevant default.
func New(keywords map[model.Category][]string, defaultForEvent, defaultForTask model.Category) *Classifier {
	if defaultForEvent == "" {
		defaultForEvent = model.CategoryMeeting
	}
	if defaultForTask == "" {
		defaultForTask = model.CategoryFocus
	}
	return &Classifier{
		keywords:        keywords,
		defaultForEvent: defaultForEvent,
		defaultForTask:  defaultForTask,
	}
}

// ClassifyEvent returns the category for a calendar event title.
func (c *Classifier) ClassifyEvent(title string) model.Category {
	if cat, ok := c.match(title); ok {
		return cat
	}
	return c.defaultForEvent
}

// ClassifyTask returns the category for a task title.
func (c *Classifier) ClassifyTask(title string) model.Category {
	if cat, ok := c.match(title); ok {
		return cat
	}
	return c.defaultForTask
}

func (c *Classifier) match(title string) (model.Category, bool) {
	lower := strings.ToLower(title)
	for _, cat := range matchOrder {
		for _, kw := range c.keywords[cat] {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(lower, kw) {
				return cat, true
			}
		}
	}
	return "", false
}
