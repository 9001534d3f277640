//go:build linux

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ardnew/sdspi/pkg"
)

// ChipSelect implements [hal.ChipSelect] over a sysfs GPIO line.
type ChipSelect struct {
	pin       int
	valuePath string
	exported  bool
}

// NewChipSelect claims the given GPIO number as an output and drives it
// high (card deselected). If the GPIO is not already exported, it is
// exported and unexported again on Close.
func NewChipSelect(pin int) (*ChipSelect, error) {
	cs := &ChipSelect{
		pin:       pin,
		valuePath: gpioValuePath(pin),
	}

	if _, err := os.Stat(gpioDirPath(pin)); os.IsNotExist(err) {
		if err := writeSysfs(gpioExportPath, strconv.Itoa(pin)); err != nil {
			return nil, fmt.Errorf("export gpio %d: %w", pin, err)
		}
		cs.exported = true
		// The attribute files appear shortly after export.
		time.Sleep(50 * time.Millisecond)
	}

	if err := writeSysfs(gpioDirectionPath(pin), "high"); err != nil {
		return nil, fmt.Errorf("configure gpio %d: %w", pin, err)
	}

	pkg.LogDebug(pkg.ComponentHAL, "chip select claimed", "gpio", pin)
	return cs, nil
}

// High deselects the card.
func (cs *ChipSelect) High() { cs.set("1") }

// Low selects the card.
func (cs *ChipSelect) Low() { cs.set("0") }

// Close releases the GPIO, leaving the line high.
func (cs *ChipSelect) Close() error {
	cs.High()
	if cs.exported {
		return writeSysfs(gpioUnexportPath, strconv.Itoa(cs.pin))
	}
	return nil
}

func (cs *ChipSelect) set(v string) {
	if err := writeSysfs(cs.valuePath, v); err != nil {
		pkg.LogError(pkg.ComponentHAL, "chip select write failed",
			"gpio", cs.pin, "error", err)
	}
}

func gpioDirPath(pin int) string {
	return filepath.Join(gpioBasePath, "gpio"+strconv.Itoa(pin))
}

func gpioDirectionPath(pin int) string {
	return filepath.Join(gpioDirPath(pin), "direction")
}

func gpioValuePath(pin int) string {
	return filepath.Join(gpioDirPath(pin), "value")
}

func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(value)
	return err
}
