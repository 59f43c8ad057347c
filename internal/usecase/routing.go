package usecase

import (
	"strings"
	"unicode/utf8"
)

// minSearchQueryRunes is the length a query must exceed to go to the web.
const minSearchQueryRunes = 10

// Plugin is the answering strategy picked for a conversation. It is either
// LocalPlugin or SearchPlugin.
type Plugin interface {
	Name() string
	isPlugin()
}

// LocalPlugin answers from the model's own knowledge.
type LocalPlugin struct{}

// SearchPlugin answers from web search results for Query, optionally
// restricted to Site.
type SearchPlugin struct {
	Query string
	Site  string
}

func (LocalPlugin) Name() string  { return "local" }
func (SearchPlugin) Name() string { return "search" }

func (LocalPlugin) isPlugin()  {}
func (SearchPlugin) isPlugin() {}

// RouteGuards are the conditions besides the label that decide routing.
type RouteGuards struct {
	OpenLabels       []string
	SearchConfigured bool
	Query            string
	Site             string
}

// Route picks the plugin for a classification label. Only an allow-listed
// label with search configured and a long enough query goes to search.
func Route(label string, g RouteGuards) Plugin {
	if !g.SearchConfigured {
		return LocalPlugin{}
	}
	if utf8.RuneCountInString(strings.TrimSpace(g.Query)) <= minSearchQueryRunes {
		return LocalPlugin{}
	}
	label = strings.TrimSpace(label)
	for _, open := range g.OpenLabels {
		if strings.EqualFold(open, label) {
			return SearchPlugin{Query: strings.TrimSpace(g.Query), Site: g.Site}
		}
	}
	return LocalPlugin{}
}
