package telegram

import (
	"crypto/md5"
	"encoding/binary"
	"time"

	"github.com/gotd/td/telegram"
)

// Device fingerprints are stable per account so Telegram sees the same
// "phone" across restarts. The app version occasionally moves forward, the
// way a real device takes updates; roughly one account in ten updates on
// any given day.

var deviceModels = []string{
	"Samsung Galaxy S23",
	"Samsung Galaxy S22",
	"Xiaomi 13",
	"Xiaomi Redmi Note 12",
	"Google Pixel 7",
	"Google Pixel 6a",
	"OnePlus 11",
	"realme GT Neo 5",
}

var systemVersions = []string{
	"SDK 31",
	"SDK 32",
	"SDK 33",
	"SDK 34",
}

// appVersions is ordered oldest to newest; the daily update moves an
// account forward, never back.
var appVersions = []string{
	"10.9.1",
	"10.11.0",
	"10.12.0",
	"10.13.2",
	"10.14.5",
}

const appUpdateChance = 0.1

// DeviceFor derives the per-account fingerprint for the given day.
func DeviceFor(accountID string, now time.Time) telegram.DeviceConfig {
	model := deviceModels[seededIndex(accountID, "device", len(deviceModels))]
	system := systemVersions[seededIndex(accountID, "system", len(systemVersions))]

	base := seededIndex(accountID, "app-version", len(appVersions)-1)
	if seededUnit(accountID, "app-update:"+now.UTC().Format("2006-01-02")) < appUpdateChance {
		base++
	}

	return telegram.DeviceConfig{
		DeviceModel:    model,
		SystemVersion:  system,
		AppVersion:     appVersions[base],
		SystemLangCode: "ru",
		LangPack:       "android",
		LangCode:       "ru",
	}
}

// seededUnit maps (id, salt) to a stable value in [0, 1).
func seededUnit(id, salt string) float64 {
	sum := md5.Sum([]byte(id + ":" + salt))
	n := binary.BigEndian.Uint64(sum[:8])
	return float64(n) / float64(^uint64(0))
}

func seededIndex(id, salt string, n int) int {
	if n <= 0 {
		return 0
	}
	return int(seededUnit(id, salt) * float64(n))
}
