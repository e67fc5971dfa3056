package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"pumplab/internal/detect"
	"pumplab/internal/exposure"
)

// suspiciousInstructions are scanned for as substrings of raw logs.
var suspiciousInstructions = []string{
	"InitializeMayhemState",
}

// junkExact are rejected on exact (case-insensitive) name/symbol match.
var junkExact = map[string]struct{}{
	"test": {}, "scam": {}, "rug": {}, "rugpull": {}, "fake": {}, "honeypot": {},
}

// junkPrefixes reject keyboard-mash names.
var junkPrefixes = []string{"asdf", "qwerty"}

var repetitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^a{3,}$`),
	regexp.MustCompile(`(?i)^x{3,}$`),
}

func (p *Pipeline) stageDedup(_ context.Context, det *detect.Event, _ *AdmissionResult) (bool, string) {
	if p.seen.Contains(det.BondingCurve) {
		return false, ReasonAlreadyProcessed
	}
	if p.opts.HasOpenPosition != nil && p.opts.HasOpenPosition(det.Mint) {
		return false, ReasonAlreadyOwned
	}
	if p.opts.HasPendingTrade != nil && p.opts.HasPendingTrade(det.Mint) {
		return false, ReasonPendingTrade
	}
	p.seen.Add(det.BondingCurve)
	return true, ""
}

func (p *Pipeline) stageTokenAge(_ context.Context, det *detect.Event, _ *AdmissionResult) (bool, string) {
	ageMs := time.Now().UnixMilli() - det.DetectedAt
	if ageMs > p.cfg.MaxTokenAgeSeconds*1000 {
		return false, fmt.Sprintf("%s (%.1fs old)", ReasonTokenTooOld, float64(ageMs)/1000)
	}
	return true, ""
}

func (p *Pipeline) stageRateLimit(_ context.Context, _ *detect.Event, _ *AdmissionResult) (bool, string) {
	cutoff := time.Now().Add(-time.Hour)
	i := 0
	for i < len(p.admissions) && p.admissions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		p.admissions = p.admissions[i:]
	}
	if len(p.admissions) >= p.cfg.MaxTradesPerHour {
		return false, ReasonRateLimit
	}
	return true, ""
}

func (p *Pipeline) stageBlacklist(_ context.Context, det *detect.Event, _ *AdmissionResult) (bool, string) {
	if p.opts.Blacklist.ContainsMint(det.Mint) {
		return false, ReasonMintBlacklisted
	}
	if det.Creator != "" && p.opts.Blacklist.ContainsCreator(det.Creator) {
		return false, ReasonCreatorBlacklist
	}
	return true, ""
}

func (p *Pipeline) stageExposure(_ context.Context, _ *detect.Event, _ *AdmissionResult) (bool, string) {
	if v := p.opts.Guard.CanTrade(p.cfg.QuoteAmountSol); v != exposure.OK {
		return false, v.String()
	}
	return true, ""
}

func (p *Pipeline) stagePattern(_ context.Context, det *detect.Event, _ *AdmissionResult) (bool, string) {
	for _, s := range []string{det.Name, det.Symbol} {
		if reason := junkReason(s); reason != "" {
			return false, fmt.Sprintf("%s (%s)", ReasonJunkPattern, reason)
		}
	}
	return true, ""
}

// junkReason returns a non-empty description when the name or symbol
// matches a known junk pattern.
func junkReason(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" && s != "" {
		return "empty after trim"
	}
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)

	if _, ok := junkExact[lower]; ok {
		return "exact match: " + lower
	}
	for _, prefix := range junkPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "prefix match: " + prefix
		}
	}
	for _, re := range repetitionPatterns {
		if re.MatchString(trimmed) {
			return "repetition"
		}
	}
	if len(trimmed) > 3 {
		alnum := 0
		for _, r := range trimmed {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				alnum++
			}
		}
		if float64(alnum)/float64(len([]rune(trimmed))) < 0.5 {
			return "low alphanumeric ratio"
		}
	}
	return ""
}

func (p *Pipeline) stageSuspicious(_ context.Context, det *detect.Event, _ *AdmissionResult) (bool, string) {
	for _, line := range det.RawLogs {
		for _, needle := range suspiciousInstructions {
			if strings.Contains(line, needle) {
				return false, fmt.Sprintf("%s (%s)", ReasonSuspiciousIx, needle)
			}
		}
	}
	return true, ""
}
