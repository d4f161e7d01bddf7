package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/royaltyledger/internal/revenue/domain"
)

// IdentityHash fingerprints an event by its owning file, its row ordinal and
// the business fields that identify the line. The same file and row always
// hash the same; a correcting file never collides with the file it replaces.
func IdentityHash(sourceFileID snowflake.ID, ordinal int, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(sourceFileID.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(ordinal)))
	for _, f := range fields {
		h.Write([]byte{'|'})
		h.Write([]byte(strings.TrimSpace(f)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func revenueIdentity(sourceFileID snowflake.ID, ev *domain.RevenueEvent) string {
	return IdentityHash(sourceFileID, ev.RowOrdinal,
		ev.Vendor,
		ev.ArtistName,
		ev.TrackTitle,
		ev.ISRC,
		ev.OccurredAt.UTC().Format("2006-01-02"),
		ev.Currency,
		ev.AmountOriginal.String(),
		strconv.FormatInt(ev.Quantity, 10),
	)
}

func costIdentity(sourceFileID snowflake.ID, ev *domain.CostEvent) string {
	return IdentityHash(sourceFileID, ev.RowOrdinal,
		"cost",
		ev.Vendor,
		ev.Description,
		ev.ISRC,
		ev.OccurredAt.UTC().Format("2006-01-02"),
		ev.Currency,
		ev.AmountOriginal.String(),
	)
}
