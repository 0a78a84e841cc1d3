// Package e2e holds an end-to-end corpus: files of every supported format,
// each about one topic, and the queries that should find them.
package e2e

import (
	"fmt"
	"strings"
)

// Document is one corpus file before it is written to disk.
type Document struct {
	Name    string // file name without extension
	Ext     string
	Title   string
	Content string
}

// FileName is Name plus Ext.
func (d Document) FileName() string { return d.Name + d.Ext }

// Text is what the fixture writer stores in the file.
func (d Document) Text() string { return d.Title + "\n\n" + d.Content }

// QueryCase is a query and the file that must be among its hits.
type QueryCase struct {
	Query    string
	Expected string // file name
}

// Corpus is the set of documents and queries.
type Corpus struct {
	Documents []Document
	Cases     []QueryCase
}

type topic struct {
	title   string
	phrase  string
	content string
}

var topics = []topic{
	{"Sourdough Baking", "sourdough starter", "Sourdough bread rises with wild yeast. Feed the sourdough starter flour and water every day."},
	{"Tide Pools", "tide pool anemones", "Rocky shores hold small pools at low water. A tide pool shelters anemones, crabs and snails."},
	{"Violin Care", "violin rosin", "Wipe the strings after playing. Violin bows need rosin so the hair grips the string."},
	{"Beekeeping", "honeybee hive", "A colony needs a queen and thousands of workers. Inspect the honeybee hive for mites in spring."},
	{"Glacier Retreat", "glacier meltwater", "Alpine ice is shrinking each decade. Glacier meltwater feeds rivers through the dry summer."},
	{"Chess Openings", "chess gambit", "White opens with the king pawn. A chess gambit sacrifices material for quick development."},
	{"Bicycle Repair", "bicycle derailleur", "Clean the chain before oiling it. Adjust the bicycle derailleur until shifting is quiet."},
	{"Tea Ceremony", "matcha whisk", "Guests kneel on tatami mats. The host prepares matcha with a bamboo whisk."},
	{"Volcano Monitoring", "volcano seismometer", "Magma movement shakes the ground. Each volcano seismometer records tremors around the crater."},
	{"Origami Cranes", "origami crane", "Start with a square sheet of paper. Folding an origami crane takes about thirty creases."},
	{"Coral Reefs", "coral bleaching", "Reefs host a quarter of marine species. Warm water causes coral bleaching across whole reefs."},
	{"Telescope Optics", "telescope mirror", "Larger apertures gather more light. A reflecting telescope uses a curved mirror instead of a lens."},
	{"Composting", "compost worms", "Kitchen scraps break down into soil. Red worms speed up compost in a covered bin."},
	{"Falconry", "falcon hood", "Trained birds hunt from the glove. A leather hood keeps the falcon calm before flight."},
	{"Pottery Glazes", "kiln glaze", "Clay pieces are fired twice. The glaze melts into glass inside the kiln."},
	{"Lighthouse Keepers", "lighthouse lantern", "Keepers lived at remote stations. They trimmed the lighthouse lantern wick every night."},
	{"Mushroom Foraging", "chanterelle mushrooms", "Forage only what you can identify. Chanterelle mushrooms grow near oak and beech."},
	{"Sailing Knots", "bowline knot", "Sailors tie knots that hold and release easily. The bowline knot forms a fixed loop."},
	{"Desert Cacti", "saguaro cactus", "Desert plants store water in thick stems. The saguaro cactus can live for two centuries."},
	{"Cheese Aging", "cheddar cave", "Cheese develops flavor as it ages. Cheddar wheels rest in a cool cave for months."},
	{"Kite Flying", "kite string", "Steady wind lifts a light frame. Let out the kite string slowly as it climbs."},
	{"Typewriter Restoration", "typewriter ribbon", "Old machines need new rubber platens. Replace the typewriter ribbon when letters fade."},
	{"Penguin Colonies", "emperor penguins", "Antarctic winters are dark and cold. Emperor penguins huddle together to keep warm."},
	{"Stained Glass", "stained glass lead", "Colored panes are cut to a pattern. Stained glass panels are joined with lead came."},
}

// FileExtensions are the formats the corpus is written in, cycled over the topics.
var FileExtensions = []string{
	".txt", ".md", ".rst", ".docx", ".xlsx", ".pptx", ".odt", ".ods", ".odp",
}

// BuildCorpus returns one document per topic, with extensions cycling
// through FileExtensions, and one query per document.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	for i, t := range topics {
		d := Document{
			Name:    fmt.Sprintf("doc-%02d-%s", i+1, slug(t.title)),
			Ext:     FileExtensions[i%len(FileExtensions)],
			Title:   t.title,
			Content: t.content,
		}
		c.Documents = append(c.Documents, d)
		c.Cases = append(c.Cases, QueryCase{Query: t.phrase, Expected: d.FileName()})
	}
	return c
}

// Document returns the document with the given file name.
func (c *Corpus) Document(fileName string) (Document, bool) {
	for _, d := range c.Documents {
		if d.FileName() == fileName {
			return d, true
		}
	}
	return Document{}, false
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}

// containsWords reports whether every word of phrase occurs in d, ignoring case.
func containsWords(d Document, phrase string) bool {
	text := strings.ToLower(d.Text())
	for _, w := range strings.Fields(strings.ToLower(phrase)) {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
