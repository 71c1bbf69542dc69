package parse

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"rollingest/internal/runner"
	"rollingest/internal/store"

	"go.uber.org/zap"
)

// Parser turns one acquired document into structured voter records. Text
// extraction is delegated to an ordered strategy chain; only the aggregate
// outcome is visible to callers.
type Parser struct {
	strategies []Strategy
	logger     *zap.Logger

	epic     *regexp.Regexp
	epicBare *regexp.Regexp
	name     *regexp.Regexp
	relation *regexp.Regexp
	age      *regexp.Regexp
	gender   *regexp.Regexp
	address  *regexp.Regexp
}

// New creates a parser over the given strategy chain.
func New(strategies []Strategy, logger *zap.Logger) *Parser {
	return &Parser{
		strategies: strategies,
		logger:     logger,

		// EPIC numbers appear as "ABC1234567" or legacy "001/000006",
		// with or without a label.
		epic:     regexp.MustCompile(`(?i)epic[:\s]*([A-Z]{3}[0-9]{7}|[0-9]{3}/[0-9]{6})`),
		epicBare: regexp.MustCompile(`\b([A-Z]{3}[0-9]{7}|[0-9]{3}/[0-9]{6})\b`),
		name:     regexp.MustCompile(`(?i)name[:\s]+([^\n]+)`),
		relation: regexp.MustCompile(`(?i)(father|husband|mother)[:\s]+([^\n]+)`),
		age:      regexp.MustCompile(`(?i)age[:\s]+([0-9]{1,3})`),
		gender:   regexp.MustCompile(`(?i)gender[:\s]+(male|female|other)`),
		address:  regexp.MustCompile(`(?i)address[:\s]+([^\n]+)`),
	}
}

// ParseDocument extracts all voter records from one document. A document
// no strategy can read is a permanent failure; records missing the EPIC
// number or other optional fields are valid output.
func (p *Parser) ParseDocument(ctx context.Context, path string) ([]store.Record, error) {
	text, err := p.extractText(ctx, path)
	if err != nil {
		return nil, err
	}

	var records []store.Record
	for _, block := range splitBlocks(text) {
		rec, ok := p.extractFields(block)
		if !ok {
			continue
		}
		rec.SourceFile = filepath.Base(path)
		records = append(records, rec)
	}

	p.logger.Debug("Parsed document",
		zap.String("file", filepath.Base(path)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func (p *Parser) extractText(ctx context.Context, path string) (string, error) {
	for _, strategy := range p.strategies {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		text, err := strategy.ExtractText(ctx, path)
		if err != nil {
			p.logger.Debug("Extraction strategy failed",
				zap.String("strategy", strategy.Name()),
				zap.String("file", filepath.Base(path)),
				zap.Error(err),
			)
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return "", runner.Permanent(fmt.Errorf("no strategy extracted text from %s", filepath.Base(path)))
}

// splitBlocks splits extracted text into per-voter blocks on blank lines.
func splitBlocks(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var blocks []string
	for _, block := range regexp.MustCompile(`\n\s*\n`).Split(normalized, -1) {
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func (p *Parser) extractFields(block string) (store.Record, bool) {
	var rec store.Record

	if m := p.epic.FindStringSubmatch(block); m != nil {
		rec.EpicNo = strings.ToUpper(strings.TrimSpace(m[1]))
	} else if m := p.epicBare.FindStringSubmatch(block); m != nil {
		rec.EpicNo = strings.ToUpper(strings.TrimSpace(m[1]))
	}

	if m := p.name.FindStringSubmatch(block); m != nil {
		rec.NameOG = strings.TrimSpace(m[1])
	}
	if m := p.relation.FindStringSubmatch(block); m != nil {
		rec.RelationType = titleCase(m[1])
		rec.RelationOG = strings.TrimSpace(m[2])
	}
	if m := p.age.FindStringSubmatch(block); m != nil {
		if age, err := strconv.Atoi(m[1]); err == nil {
			rec.Age = age
		}
	}
	if m := p.gender.FindStringSubmatch(block); m != nil {
		rec.Gender = titleCase(m[1])
	}
	if m := p.address.FindStringSubmatch(block); m != nil {
		rec.AddressOG = strings.TrimSpace(m[1])
	}

	// A block with neither a name nor an EPIC is layout noise, not a voter.
	return rec, rec.NameOG != "" || rec.EpicNo != ""
}

func titleCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
