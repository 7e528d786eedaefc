// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

// Package events defines the canonical event model for the pipeline: the
// fixed category allow-list, the normalized envelope published to the bus,
// and the tolerant consumer-side decoding that turns heterogeneous client
// payloads into typed fact rows.
package events

// Category is an allow-listed client event classification. Each category is
// also the bus topic suffix for events of that kind.
type Category string

// The fixed category allow-list. Client events outside this set are skipped
// at the edge and never published.
//
// CategoryVideoEvents keeps its historical mixed-case wire value; changing it
// would silently orphan events from deployed trackers.
const (
	CategoryPageLoad       Category = "page_load"
	CategoryPageView       Category = "page_view"
	CategoryLinkClick      Category = "link_click"
	CategoryButtonClick    Category = "button_click"
	CategoryMouseClick     Category = "mouse_click"
	CategoryMouseMove      Category = "mouse_move"
	CategoryScrollDepth    Category = "scroll_depth"
	CategoryFormSubmit     Category = "form_submit"
	CategoryFormFocus      Category = "form_focus"
	CategoryFormInput      Category = "form_input"
	CategoryVideoEvents    Category = "video_Events"
	CategoryPeriodicEvents Category = "periodic_events"
	CategoryPageHidden     Category = "page_hidden"
	CategoryPageUnload     Category = "page_unload"
	CategoryProductView    Category = "product_view"
	CategoryCartAdd        Category = "cart_add"
	CategoryCartRemove     Category = "cart_remove"
	CategoryPurchase       Category = "purchase"
	CategoryCheckoutStep   Category = "checkout_step"
	CategoryCustomEvent    Category = "custom_event"
	CategoryFileDownload   Category = "file_download"
	CategoryPageVisible    Category = "page_visible"
)

// Group identifies which consumer group handles a category and which fact
// table its rows land in.
type Group string

const (
	GroupPage        Group = "page"
	GroupInteraction Group = "interaction"
	GroupForm        Group = "form"
	GroupEcommerce   Group = "ecommerce"

	// GroupOther covers allow-listed categories with no dedicated consumer.
	// They are published for retention and future consumers but produce no
	// fact rows.
	GroupOther Group = "other"
)

// TopicPrefix is the bus subject prefix; the full topic for a category is
// TopicPrefix + "." + category.
const TopicPrefix = "events"

var categoryGroups = map[Category]Group{
	CategoryPageLoad:    GroupPage,
	CategoryPageView:    GroupPage,
	CategoryPageUnload:  GroupPage,
	CategoryPageHidden:  GroupPage,
	CategoryPageVisible: GroupPage,

	CategoryMouseClick:   GroupInteraction,
	CategoryButtonClick:  GroupInteraction,
	CategoryLinkClick:    GroupInteraction,
	CategoryFileDownload: GroupInteraction,

	CategoryFormSubmit: GroupForm,
	CategoryFormFocus:  GroupForm,
	CategoryFormInput:  GroupForm,

	CategoryProductView:  GroupEcommerce,
	CategoryCartAdd:      GroupEcommerce,
	CategoryCartRemove:   GroupEcommerce,
	CategoryCheckoutStep: GroupEcommerce,
	CategoryPurchase:     GroupEcommerce,

	CategoryMouseMove:      GroupOther,
	CategoryScrollDepth:    GroupOther,
	CategoryVideoEvents:    GroupOther,
	CategoryPeriodicEvents: GroupOther,
	CategoryCustomEvent:    GroupOther,
}

// Valid reports whether s is an allow-listed category.
func Valid(s string) bool {
	_, ok := categoryGroups[Category(s)]
	return ok
}

// GroupOf returns the consumer group for a category, or GroupOther for
// unknown categories.
func GroupOf(c Category) Group {
	if g, ok := categoryGroups[c]; ok {
		return g
	}
	return GroupOther
}

// Topic returns the bus topic for this category.
func (c Category) Topic() string {
	return TopicPrefix + "." + string(c)
}

// Categories returns all allow-listed categories. Order is not stable.
func Categories() []Category {
	out := make([]Category, 0, len(categoryGroups))
	for c := range categoryGroups {
		out = append(out, c)
	}
	return out
}

// GroupCategories returns the categories belonging to the given group.
func GroupCategories(g Group) []Category {
	var out []Category
	for c, cg := range categoryGroups {
		if cg == g {
			out = append(out, c)
		}
	}
	return out
}

// GroupTopics returns the bus topics for all categories in the given group.
func GroupTopics(g Group) []string {
	cats := GroupCategories(g)
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		out = append(out, c.Topic())
	}
	return out
}
