//go:build linux

package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"
)

// advertiseBroadcastOnly is set because BlueZ advertisements are always
// registered with Type "broadcast".
const advertiseBroadcastOnly = true

const (
	bluezBusName      = "org.bluez"
	bluezAdapterIface = "org.bluez.Adapter1"
	propertiesIface   = "org.freedesktop.DBus.Properties"
	propertiesChanged = propertiesIface + ".PropertiesChanged"
)

// bluezPower reads and sets the power state of a BlueZ adapter over the
// system bus.
type bluezPower struct {
	conn *dbus.Conn
	path dbus.ObjectPath

	mu      sync.Mutex
	signals chan *dbus.Signal
	rule    string
}

func platformPower(adapterID string) (PowerControl, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("ble: connect system bus: %w", err)
	}
	path, err := findAdapter(conn, adapterID)
	if err != nil {
		return nil, err
	}
	slog.Info("[BLE] using BlueZ adapter", "path", path)
	return &bluezPower{conn: conn, path: path}, nil
}

// findAdapter resolves adapterID (e.g. "hci0") to its object path, or picks
// the first adapter BlueZ exports when adapterID is empty.
func findAdapter(conn *dbus.Conn, adapterID string) (dbus.ObjectPath, error) {
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	obj := conn.Object(bluezBusName, "/")
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return "", fmt.Errorf("ble: list bluez objects: %w", err)
	}

	var adapters []string
	for path, ifaces := range objects {
		if _, ok := ifaces[bluezAdapterIface]; ok {
			adapters = append(adapters, string(path))
		}
	}
	sort.Strings(adapters)

	for _, path := range adapters {
		if adapterID == "" || path == "/org/bluez/"+adapterID {
			return dbus.ObjectPath(path), nil
		}
	}
	if adapterID == "" {
		return "", errors.New("ble: no bluez adapter found")
	}
	return "", fmt.Errorf("ble: bluez adapter %q not found", adapterID)
}

func (p *bluezPower) State() (AdapterState, error) {
	obj := p.conn.Object(bluezBusName, p.path)
	if v, err := obj.GetProperty(bluezAdapterIface + ".PowerState"); err == nil {
		if s, ok := v.Value().(string); ok {
			return powerState(s), nil
		}
	}
	v, err := obj.GetProperty(bluezAdapterIface + ".Powered")
	if err != nil {
		return StateOff, fmt.Errorf("ble: read adapter power: %w", err)
	}
	powered, _ := v.Value().(bool)
	if powered {
		return StateOn, nil
	}
	return StateOff, nil
}

func (p *bluezPower) SetPowered(on bool) error {
	obj := p.conn.Object(bluezBusName, p.path)
	if err := obj.SetProperty(bluezAdapterIface+".Powered", dbus.MakeVariant(on)); err != nil {
		return fmt.Errorf("ble: set adapter powered=%t: %w", on, err)
	}
	return nil
}

// Watch subscribes to adapter property changes and calls fn with each new
// power state. Only one watcher is supported.
func (p *bluezPower) Watch(fn func(AdapterState)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signals != nil {
		return errors.New("ble: adapter already watched")
	}

	rule := fmt.Sprintf("type='signal',interface='%s',member='PropertiesChanged',path='%s'", propertiesIface, p.path)
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return fmt.Errorf("ble: subscribe adapter signals: %w", err)
	}
	p.rule = rule
	p.signals = make(chan *dbus.Signal, 16)
	p.conn.Signal(p.signals)

	go p.watch(p.signals, fn)
	return nil
}

func (p *bluezPower) watch(signals <-chan *dbus.Signal, fn func(AdapterState)) {
	for sig := range signals {
		if sig.Name != propertiesChanged || sig.Path != p.path || len(sig.Body) < 2 {
			continue
		}
		if iface, ok := sig.Body[0].(string); !ok || iface != bluezAdapterIface {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}
		if v, ok := changed["PowerState"]; ok {
			if s, ok := v.Value().(string); ok {
				fn(powerState(s))
			}
			continue
		}
		if v, ok := changed["Powered"]; ok {
			if powered, ok := v.Value().(bool); ok {
				if powered {
					fn(StateOn)
				} else {
					fn(StateOff)
				}
			}
		}
	}
}

func (p *bluezPower) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signals != nil {
		p.conn.RemoveSignal(p.signals)
		close(p.signals)
		_ = p.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, p.rule).Err
		p.signals = nil
	}
	return nil
}

// powerState maps BlueZ's Adapter1.PowerState strings.
func powerState(s string) AdapterState {
	switch s {
	case "on":
		return StateOn
	case "off-enabling":
		return StateTurningOn
	case "on-disabling":
		return StateTurningOff
	default:
		return StateOff
	}
}
