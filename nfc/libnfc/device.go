package libnfc

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
	"github.com/rs/zerolog"
)

// DeviceEnumRetries is how many times device enumeration is attempted.
const DeviceEnumRetries = 3

// poller reports the UIDs currently in the field.
type poller interface {
	Poll() ([][]byte, error)
	Close() error
	String() string
}

// opener opens a poller for a libnfc connection string ("" = first device).
type opener func(conn string) (poller, error)

// libnfcPoller polls a libnfc device.
type libnfcPoller struct {
	device nfc.Device
	logger zerolog.Logger
}

func openDevice(logger zerolog.Logger) opener {
	return func(conn string) (poller, error) {
		dev, err := nfc.Open(conn)
		if err != nil {
			return nil, fmt.Errorf("open device %q: %w", conn, err)
		}
		if err := dev.InitiatorInit(); err != nil {
			dev.Close()
			return nil, fmt.Errorf("initiator init: %w", err)
		}
		return &libnfcPoller{device: dev, logger: logger}, nil
	}
}

func (p *libnfcPoller) Close() error {
	return p.device.Close()
}

func (p *libnfcPoller) String() string {
	return p.device.String()
}

// Poll lists the tags in the field. Freefare-supported tags (MIFARE
// Classic, DESFire, Ultralight) are found first, then any remaining
// ISO14443A targets.
func (p *libnfcPoller) Poll() ([][]byte, error) {
	var uids [][]byte
	seen := make(map[string]bool)

	add := func(hexUID string) {
		hexUID = strings.ToUpper(hexUID)
		if hexUID == "" || seen[hexUID] {
			return
		}
		raw, err := hex.DecodeString(hexUID)
		if err != nil {
			p.logger.Debug().Str("uid", hexUID).Msg("skipping malformed uid")
			return
		}
		seen[hexUID] = true
		uids = append(uids, raw)
	}

	ffTags, ffErr := freefare.GetTags(p.device)
	if ffErr != nil {
		p.logger.Debug().Err(ffErr).Msg("freefare tag enumeration failed")
	}
	for _, tag := range ffTags {
		add(tag.UID())
	}

	modulation := nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	targets, listErr := p.device.InitiatorListPassiveTargets(modulation)
	if listErr != nil {
		if ffErr != nil && len(uids) == 0 {
			return nil, fmt.Errorf("error from freefare (%v) AND passive targets (%w)", ffErr, listErr)
		}
		p.logger.Debug().Err(listErr).Msg("listing passive targets failed")
		return uids, nil
	}

	for _, target := range targets {
		isoA, ok := target.(*nfc.ISO14443aTarget)
		if !ok {
			continue
		}
		if isoA.UIDLen <= 0 || int(isoA.UIDLen) > len(isoA.UID) {
			continue
		}
		add(hex.EncodeToString(isoA.UID[:isoA.UIDLen]))
	}
	return uids, nil
}

// listDevices enumerates libnfc devices, retrying transient failures.
func listDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}
