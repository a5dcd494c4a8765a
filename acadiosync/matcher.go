package acadiosync

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/novalearn/partnerhub_backend/config"
	"github.com/novalearn/partnerhub_backend/models"
	"github.com/novalearn/partnerhub_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type MatchType string

const (
	MatchTypeExact    MatchType = "exact"
	MatchTypePrefixed MatchType = "prefixed"
	MatchTypeFuzzy    MatchType = "fuzzy"
)

// MatchCandidate is a proposed group-to-partner linkage. Transient: produced
// by the matcher, consumed immediately to decide linkage, never persisted.
type MatchCandidate struct {
	GroupId     string    `json:"groupId,omitempty"`
	GroupName   string    `json:"groupName,omitempty"`
	PartnerId   uint      `json:"partnerId"`
	PartnerName string    `json:"partnerName"`
	Score       float64   `json:"score"`
	MatchType   MatchType `json:"matchType"`
}

// Both thresholds were tuned empirically against real partner CRM names.
func AutoLinkThreshold() float64 {
	return utils.FloatFromEnv("ACADIO_MATCH_AUTO_THRESHOLD", 0.85)
}

func SuggestionThreshold() float64 {
	return utils.FloatFromEnv("ACADIO_MATCH_SUGGEST_THRESHOLD", 0.5)
}

// groupNamePrefix is the token the LMS admins prepend to partner-owned
// training groups.
func groupNamePrefix() string {
	return utils.StringFromEnv("ACADIO_GROUP_PREFIX", "ptr_")
}

var legalEntitySuffixes = map[string]struct{}{
	"inc": {}, "llc": {}, "ltd": {}, "limited": {}, "gmbh": {},
	"corp": {}, "corporation": {}, "co": {}, "company": {}, "plc": {},
	"sa": {}, "srl": {}, "bv": {}, "ag": {}, "pvt": {},
}

// System or administrative groups that must never be linked to a partner.
var groupNameDenylist = []string{"admin", "test", "demo", "internal", "sandbox", "archive", "staff"}

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
	punctuationRe   = regexp.MustCompile(`[^\pL\pN\s]+`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// NormalizeOrgName reduces a group or partner name to its comparable core:
// lowercase, group prefix stripped, parentheticals and punctuation removed,
// whitespace collapsed, trailing legal-entity words dropped.
func NormalizeOrgName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, strings.ToLower(groupNamePrefix()))
	s = parentheticalRe.ReplaceAllString(s, " ")
	s = punctuationRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	words := strings.Fields(s)
	for len(words) > 1 {
		if _, ok := legalEntitySuffixes[words[len(words)-1]]; !ok {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func trimGroupPrefix(name string) string {
	prefix := groupNamePrefix()
	trimmed := strings.TrimSpace(name)
	if len(trimmed) >= len(prefix) && strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return strings.TrimSpace(trimmed[len(prefix):])
	}
	return trimmed
}

// similarityScore is the fuzzy metric: containment ratio when one normalized
// name contains the other, otherwise edit distance scaled to [0,1].
func similarityScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		return float64(len(shorter)) / float64(len(longer))
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(len(longer))
}

// FindBestMatch resolves a group name against the candidate partners, in
// priority order: exact normalized equality, then literal prefix-stripped
// equality, then the single best fuzzy score at or above threshold.
func FindBestMatch(groupName string, partners []models.PartnerAccount, threshold float64) *MatchCandidate {
	normGroup := NormalizeOrgName(groupName)
	prefixStripped := trimGroupPrefix(groupName)

	if normGroup != "" {
		for i := range partners {
			if NormalizeOrgName(partners[i].Name) == normGroup {
				return &MatchCandidate{
					GroupName:   groupName,
					PartnerId:   partners[i].ID,
					PartnerName: partners[i].Name,
					Score:       1.0,
					MatchType:   MatchTypeExact,
				}
			}
		}
	}

	if prefixStripped != "" {
		for i := range partners {
			if strings.EqualFold(prefixStripped, strings.TrimSpace(partners[i].Name)) {
				return &MatchCandidate{
					GroupName:   groupName,
					PartnerId:   partners[i].ID,
					PartnerName: partners[i].Name,
					Score:       0.99,
					MatchType:   MatchTypePrefixed,
				}
			}
		}
	}

	var best *MatchCandidate
	for i := range partners {
		score := similarityScore(normGroup, NormalizeOrgName(partners[i].Name))
		if best == nil || score > best.Score {
			best = &MatchCandidate{
				GroupName:   groupName,
				PartnerId:   partners[i].ID,
				PartnerName: partners[i].Name,
				Score:       score,
				MatchType:   MatchTypeFuzzy,
			}
		}
	}
	if best != nil && best.Score >= threshold {
		return best
	}
	return nil
}

// SuggestMatches returns every candidate at or above threshold, best first.
// Used by the review UI, so the bar is much lower than for auto-linking.
func SuggestMatches(groupName string, partners []models.PartnerAccount, threshold float64) []MatchCandidate {
	normGroup := NormalizeOrgName(groupName)
	prefixStripped := trimGroupPrefix(groupName)

	var out []MatchCandidate
	for i := range partners {
		p := partners[i]
		cand := MatchCandidate{
			GroupName:   groupName,
			PartnerId:   p.ID,
			PartnerName: p.Name,
			MatchType:   MatchTypeFuzzy,
		}
		switch {
		case normGroup != "" && NormalizeOrgName(p.Name) == normGroup:
			cand.Score, cand.MatchType = 1.0, MatchTypeExact
		case prefixStripped != "" && strings.EqualFold(prefixStripped, strings.TrimSpace(p.Name)):
			cand.Score, cand.MatchType = 0.99, MatchTypePrefixed
		default:
			cand.Score = similarityScore(normGroup, NormalizeOrgName(p.Name))
		}
		if cand.Score >= threshold {
			out = append(out, cand)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func isDenylistedGroupName(name string) bool {
	lower := strings.ToLower(name)
	for _, word := range groupNameDenylist {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

type AutoMatchOptions struct {
	DryRun    bool
	Threshold float64
}

type AutoMatchResult struct {
	Scanned    int              `json:"scanned"`
	Skipped    int              `json:"skipped"`
	Linked     int              `json:"linked"`
	Candidates []MatchCandidate `json:"candidates"`
}

// AutoMatchGroups links every still-unlinked group to its best partner match
// above the auto-link threshold. Existing links are never touched: the group
// query itself only returns partner_id IS NULL rows, and LinkGroupToPartner
// re-checks under the same condition.
func AutoMatchGroups(ctx context.Context, db *gorm.DB, logger *logrus.Logger, opts AutoMatchOptions) (*AutoMatchResult, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = AutoLinkThreshold()
	}

	groups, err := models.GetUnlinkedGroups(ctx, db)
	if err != nil {
		return nil, err
	}
	partners, err := models.GetActivePartnerAccounts(ctx, db)
	if err != nil {
		return nil, err
	}

	result := &AutoMatchResult{Candidates: []MatchCandidate{}}
	for _, group := range groups {
		result.Scanned++
		if isDenylistedGroupName(group.Name) {
			result.Skipped++
			continue
		}

		cand := FindBestMatch(group.Name, partners, threshold)
		if cand == nil {
			continue
		}
		cand.GroupId = group.ID
		result.Candidates = append(result.Candidates, *cand)

		if opts.DryRun {
			continue
		}
		linked, err := models.LinkGroupToPartner(ctx, db, group.ID, cand.PartnerId)
		if err != nil {
			config.LogError(logger, "matcher.go", "AutoMatchGroups", "LinkGroupToPartner", cand, err)
			continue
		}
		if linked {
			result.Linked++
			logger.WithFields(logrus.Fields{
				"group_id":   group.ID,
				"partner_id": cand.PartnerId,
				"score":      cand.Score,
				"match_type": cand.MatchType,
			}).Info("linked group to partner")
		}
	}
	return result, nil
}
