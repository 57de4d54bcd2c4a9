package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/herlein/gotal/pkg/pal"
	"github.com/herlein/gotal/pkg/tal"
	"github.com/herlein/gotal/pkg/trx"
	"github.com/herlein/gotal/pkg/trx/sim"
)

func newChip() *sim.Chip {
	return sim.New(pal.NewSim())
}

func TestDumpAndApply(t *testing.T) {
	src := newChip()
	r := trx.NewRadio(src, 1)
	r.SetPANID(0xCAFE)
	r.SetShortAddress(0x0042)
	r.SetChannelScheme(0x8D68, 0xC8)
	r.SetChannel(4)
	r.SetCommand(trx.CmdRx)

	snap, err := DumpFromDevice(src, "sim")
	if err != nil {
		t.Fatalf("DumpFromDevice: %v", err)
	}
	if snap.PartNum != trx.PartNumAT86RF215 {
		t.Errorf("part 0x%02X", snap.PartNum)
	}
	if snap.PANID(1) != 0xCAFE || snap.ShortAddress(1) != 0x0042 {
		t.Errorf("addresses 0x%04X/0x%04X", snap.PANID(1), snap.ShortAddress(1))
	}
	if got := snap.FrequencyMHz(1); got != 2425 {
		t.Errorf("frequency %v MHz, want 2425", got)
	}
	if src.Radio(1).State() != trx.StateRx {
		t.Errorf("state not restored: %s", src.Radio(1).State())
	}

	dst := newChip()
	if err := ApplyToDevice(dst, snap); err != nil {
		t.Fatalf("ApplyToDevice: %v", err)
	}
	back, err := DumpFromDevice(dst, "sim")
	if err != nil {
		t.Fatal(err)
	}
	if back.PANID(1) != 0xCAFE || back.Channel(1) != 4 {
		t.Errorf("applied snapshot reads back as PAN 0x%04X channel %d", back.PANID(1), back.Channel(1))
	}
}

func TestApplyRejectsOtherPart(t *testing.T) {
	dev := newChip()
	snap := &Snapshot{PartNum: 0x99}
	if err := ApplyToDevice(dev, snap); err == nil {
		t.Error("snapshot for another part applied")
	}
}

func TestSnapshotFiles(t *testing.T) {
	snap, err := DumpFromDevice(newChip(), "spi:/dev/spidev0.0")
	if err != nil {
		t.Fatal(err)
	}
	snap.Registers.RF09.CNL = 7

	for _, name := range []string{"snap.json", "snap.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", name)
			if err := SaveToFile(snap, path); err != nil {
				t.Fatalf("SaveToFile: %v", err)
			}
			got, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile: %v", err)
			}
			if got.Registers != snap.Registers || got.Device != snap.Device {
				t.Errorf("loaded %+v, want %+v", got, snap)
			}
		})
	}
}

func TestTALConfigFiles(t *testing.T) {
	cfg := tal.DefaultConfig()
	cfg.RF24.Channel = 20
	cfg.DeferPolicy = tal.DeferResume
	cfg.CalibrationPeriod = 5 * time.Minute

	for _, name := range []string{"tal.json", "tal.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := SaveTALConfig(cfg, path); err != nil {
				t.Fatalf("SaveTALConfig: %v", err)
			}
			got, err := LoadTALConfig(path)
			if err != nil {
				t.Fatalf("LoadTALConfig: %v", err)
			}
			if got.RF24.Channel != 20 || got.DeferPolicy != tal.DeferResume || got.CalibrationPeriod != 5*time.Minute {
				t.Errorf("loaded %+v", got)
			}
		})
	}
}

func TestLoadTALConfigValidates(t *testing.T) {
	cfg := tal.DefaultConfig()
	cfg.RF24.Channel = 3

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := writeFile(path, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTALConfig(path); err == nil {
		t.Error("invalid configuration loaded")
	}
}

func TestGetConfigPath(t *testing.T) {
	got := GetConfigPath("spi:/dev/spidev0.0")
	want := filepath.Join("etc", "at86rf215", "spi__dev_spidev0.0.yaml")
	if got != want {
		t.Errorf("GetConfigPath = %q, want %q", got, want)
	}
}

func TestVerify(t *testing.T) {
	snap, err := DumpFromDevice(newChip(), "sim")
	if err != nil {
		t.Fatal(err)
	}
	same := *snap
	if errs := Verify(snap, &same); len(errs) != 0 {
		t.Errorf("identical snapshots differ: %v", errs)
	}

	other := *snap
	other.Registers.RF24.CNL = 9
	other.Registers.RF09.MACPID0F0 = 0x12
	other.Registers.RF09.STATE = 0x04
	errs := Verify(snap, &other)
	if len(errs) != 2 {
		t.Errorf("got %d mismatches, want 2: %v", len(errs), errs)
	}
}
