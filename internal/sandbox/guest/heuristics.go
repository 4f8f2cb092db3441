package guest

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/GriffinCanCode/sentinel/internal/shared/entropy"
	"github.com/GriffinCanCode/sentinel/internal/shared/filetype"
)

// suspiciousTokens are matched against the lowercased letters-only
// projection of the sample, so "cmd.exe" is found as "cmdexe".
var suspiciousTokens = []string{
	"eval", "exec", "shell", "cmd",
	"createprocess", "virtualalloc", "writeprocessmemory", "createremotethread",
	"loadlibrary", "getprocaddress",
	"http", "https", "ftp",
	"powershell", "cmdexe", "bash",
	"ransomware", "cryptolocker", "wannacry",
}

// fallbackAnalysis scores a sample on the host when the guest cannot run.
// It reads data only and never executes it.
func fallbackAnalysis(data []byte, reason string) analysis.GuestResult {
	ent := entropy.Shannon(data)
	hits := tokenHits(data)

	yara := analysis.Clamp01(float32(hits) / 10)
	ml := analysis.Clamp01((entropyBand(ent) + sizeBand(len(data), ent)) / 2)

	res := analysis.GuestResult{
		YaraLikeScore:  yara,
		MLLikeScore:    ml,
		Observations:   observe(data, ent),
		Fallback:       true,
		FallbackReason: reason,
	}
	res.DetectedPatternCount = uint32(hits + len(res.Observations))

	if yara > 0.5 {
		res.TriggeredRules = append(res.TriggeredRules,
			fmt.Sprintf("host signature heuristic: %d suspicious strings (score: %.2f)", hits, yara))
	}
	if ml > 0.5 {
		res.TriggeredRules = append(res.TriggeredRules,
			fmt.Sprintf("host entropy heuristic: %.2f bits/byte (score: %.2f)", ent, ml))
	}
	return res
}

func tokenHits(data []byte) int {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		r := rune(b)
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	text := sb.String()

	hits := 0
	for _, tok := range suspiciousTokens {
		if strings.Contains(text, tok) {
			hits++
		}
	}
	return hits
}

func entropyBand(ent float64) float32 {
	switch {
	case ent > entropy.High:
		return 0.8
	case ent > 6.0:
		return 0.5
	default:
		return 0.2
	}
}

func sizeBand(size int, ent float64) float32 {
	if size < 10_000 && ent > 6.5 {
		return 0.7
	}
	return 0.3
}

func observe(data []byte, ent float64) []string {
	var obs []string
	info := filetype.Detect(data)
	switch info.Kind {
	case filetype.PE:
		obs = append(obs, "PE executable header")
	case filetype.ELF:
		obs = append(obs, "ELF executable header")
	case filetype.MachO:
		obs = append(obs, "Mach-O executable header")
	case filetype.Script:
		obs = append(obs, "script interpreter line")
	}
	if ent > entropy.High {
		obs = append(obs, fmt.Sprintf("high entropy content (%.2f bits/byte)", ent))
	}
	if bytes.Contains(data, []byte("http://")) || bytes.Contains(data, []byte("https://")) {
		obs = append(obs, "embedded URL")
	}
	return obs
}
