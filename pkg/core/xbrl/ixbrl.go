package xbrl

import (
	"io"
	"math"
	"strconv"
	"strings"

	"unit_economics/pkg/core/logging"

	"github.com/PuerkitoBio/goquery"
)

// The HTML parser lower-cases element and attribute names, so inline XBRL
// tags are matched in their lower-case form.
const (
	selFacts    = `ix\:nonfraction, ix\:nonnumeric`
	selContexts = `xbrli\:context, context`
)

// LoadIXBRL extracts facts and contexts from an inline XBRL HTML filing.
// A document that cannot be parsed yields an empty filing.
func LoadIXBRL(r io.Reader, meta FilingMeta) *Filing {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		logging.Logger.Warnw("[LOADER] unreadable iXBRL document, continuing with zero facts", "error", err.Error())
		return Empty(meta)
	}

	contexts := make(map[string]Context)
	doc.Find(selContexts).Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("id")
		if !ok || id == "" {
			return
		}
		contexts[id] = parseContextNode(id, s)
	})

	var facts []Fact
	doc.Find(selFacts).Each(func(_ int, s *goquery.Selection) {
		fact, ok := parseFactNode(s)
		if !ok {
			return
		}
		if _, known := contexts[fact.ContextRef]; fact.ContextRef != "" && !known {
			contexts[fact.ContextRef] = Context{ID: fact.ContextRef}
		}
		facts = append(facts, fact)
	})

	logging.Logger.Debugw("[LOADER] parsed iXBRL", "facts", len(facts), "contexts", len(contexts))
	return NewFiling(meta, facts, contexts)
}

func parseContextNode(id string, s *goquery.Selection) Context {
	c := Context{ID: id}

	period := s.Find(`xbrli\:period, period`).First()
	if inst := strings.TrimSpace(period.Find(`xbrli\:instant, instant`).First().Text()); inst != "" {
		c.PeriodType = PeriodInstant
		c.Instant = ParseDate(inst)
	} else {
		start := strings.TrimSpace(period.Find(`xbrli\:startdate, startdate`).First().Text())
		end := strings.TrimSpace(period.Find(`xbrli\:enddate, enddate`).First().Text())
		if start != "" || end != "" {
			c.PeriodType = PeriodDuration
		}
		c.Start = ParseDate(start)
		c.End = ParseDate(end)
	}

	segment := s.Find(`xbrli\:segment, segment`).First()
	if segment.Length() > 0 {
		dims := make(map[string]string)
		segment.Find(`xbrldi\:explicitmember, xbrldi\:typedmember`).Each(func(_ int, m *goquery.Selection) {
			if dim, ok := m.Attr("dimension"); ok {
				dims[dim] = strings.TrimSpace(m.Text())
			}
		})
		if len(dims) > 0 {
			c.Dimensions = dims
		} else {
			c.Segment = strings.TrimSpace(segment.Text())
		}
	}
	return c
}

func parseFactNode(s *goquery.Selection) (Fact, bool) {
	name, _ := s.Attr("name")
	if name == "" {
		return Fact{}, false
	}
	contextRef, _ := s.Attr("contextref")
	unitRef, _ := s.Attr("unitref")
	decimals, _ := s.Attr("decimals")
	raw := strings.TrimSpace(s.Text())

	fact := Fact{
		Tag:        name,
		ContextRef: contextRef,
		UnitRef:    unitRef,
		Decimals:   decimals,
		Raw:        raw,
	}

	if goquery.NodeName(s) != "ix:nonfraction" {
		return fact, true
	}
	v, ok := ParseNumber(raw)
	if !ok {
		return fact, true
	}
	if scale, err := strconv.Atoi(s.AttrOr("scale", "0")); err == nil && scale != 0 {
		v *= math.Pow10(scale)
	}
	if s.AttrOr("sign", "") == "-" {
		v = -v
	}
	fact.Value = &v
	return fact, true
}
