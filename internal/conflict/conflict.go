// Package conflict arbitrates between two catalog records for the same item.
// Everything here is pure: inputs are never mutated and results share no maps.
package conflict

import (
	"maps"
	"strings"

	"collectible-pricing/internal/models"
)

// Field weights of the completeness score. They sum to 100.
const (
	weightNumber     = 20
	weightName       = 20
	weightImage      = 20
	weightCategory   = 10
	weightYear       = 10
	weightPieces     = 10
	weightMSRP       = 5
	weightGTIN       = 3
	weightExternalID = 2
)

// QualityScore rates field completeness from 0 to 100.
func QualityScore(m models.ItemMetadata) int {
	score := 0
	if present(m.ItemNumber) {
		score += weightNumber
	}
	if present(m.Name) {
		score += weightName
	}
	if present(m.ImageURL) {
		score += weightImage
	}
	if present(m.Category) {
		score += weightCategory
	}
	if m.Year > 0 {
		score += weightYear
	}
	if m.PieceCount > 0 {
		score += weightPieces
	}
	if m.MSRPCents > 0 {
		score += weightMSRP
	}
	if present(m.GTIN) {
		score += weightGTIN
	}
	for _, v := range m.ExternalIDs {
		if present(v) {
			score += weightExternalID
			break
		}
	}
	return score
}

// Resolve picks the record to keep. A strictly more complete incoming record wins;
// equal scores merge; otherwise existing is kept.
func Resolve(existing, incoming models.ItemMetadata) models.ItemMetadata {
	es, is := QualityScore(existing), QualityScore(incoming)
	switch {
	case is > es:
		return incoming.Clone()
	case is == es:
		return Merge(existing, incoming)
	default:
		return existing.Clone()
	}
}

// Merge fills absent fields of existing from incoming, unions external ids
// (incoming wins on collision) and keeps the later verification time.
func Merge(existing, incoming models.ItemMetadata) models.ItemMetadata {
	out := existing.Clone()

	fillString(&out.ItemNumber, incoming.ItemNumber)
	fillString(&out.Name, incoming.Name)
	fillString(&out.Category, incoming.Category)
	fillString(&out.ImageURL, incoming.ImageURL)
	fillString(&out.GTIN, incoming.GTIN)
	fillString(&out.Source, incoming.Source)
	if out.Year <= 0 {
		out.Year = incoming.Year
	}
	if out.PieceCount <= 0 {
		out.PieceCount = incoming.PieceCount
	}
	if out.MSRPCents <= 0 {
		out.MSRPCents = incoming.MSRPCents
	}
	if out.Retired == nil && incoming.Retired != nil {
		v := *incoming.Retired
		out.Retired = &v
	}

	if len(incoming.ExternalIDs) > 0 {
		if out.ExternalIDs == nil {
			out.ExternalIDs = make(map[string]string, len(incoming.ExternalIDs))
		}
		maps.Copy(out.ExternalIDs, incoming.ExternalIDs)
	}

	if incoming.LastVerified.After(out.LastVerified) {
		out.LastVerified = incoming.LastVerified
	}
	return out
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

func fillString(dst *string, v string) {
	if !present(*dst) && present(v) {
		*dst = v
	}
}
