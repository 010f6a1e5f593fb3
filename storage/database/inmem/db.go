package inmemdb

import (
	"sort"
	"sync"

	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/core/licitacion"
)

// DB is an in-memory store used by tests and local runs.
// Transactions are serialized and restore a snapshot of the tables when they fail.
type DB struct {
	txMu sync.Mutex // one transaction at a time
	mu   sync.RWMutex

	licitaciones map[string]licitacion.Licitacion
	ates         map[string]licitacion.Ate
	consultas    map[string]licitacion.Consulta
	historial    []licitacion.HistorialEntry
	roles        []access.RoleAssignment
	feriados     map[string]string // fecha -> nombre
}

func Open() *DB {
	return &DB{
		licitaciones: make(map[string]licitacion.Licitacion),
		ates:         make(map[string]licitacion.Ate),
		consultas:    make(map[string]licitacion.Consulta),
		feriados:     make(map[string]string),
	}
}

// AddFeriado registers a holiday (YYYY-MM-DD). Holidays are reference data and outlive transactions.
func (db *DB) AddFeriado(fecha, nombre string) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.feriados[fecha] = nombre
}

type snapshot struct {
	licitaciones map[string]licitacion.Licitacion
	ates         map[string]licitacion.Ate
	consultas    map[string]licitacion.Consulta
	historial    []licitacion.HistorialEntry
}

// Stored values are never mutated in place, so copying the maps is enough.
func (db *DB) snapshot() snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()

	snap := snapshot{
		licitaciones: make(map[string]licitacion.Licitacion, len(db.licitaciones)),
		ates:         make(map[string]licitacion.Ate, len(db.ates)),
		consultas:    make(map[string]licitacion.Consulta, len(db.consultas)),
		historial:    append([]licitacion.HistorialEntry(nil), db.historial...),
	}
	for k, v := range db.licitaciones {
		snap.licitaciones[k] = v
	}
	for k, v := range db.ates {
		snap.ates[k] = v
	}
	for k, v := range db.consultas {
		snap.consultas[k] = v
	}
	return snap
}

func (db *DB) restore(snap snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.licitaciones = snap.licitaciones
	db.ates = snap.ates
	db.consultas = snap.consultas
	db.historial = snap.historial
}

// Historial returns the historial of a licitación in insertion order.
func (db *DB) Historial(licitacionID string) []licitacion.HistorialEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var entries []licitacion.HistorialEntry
	for _, e := range db.historial {
		if e.LicitacionID == licitacionID {
			entries = append(entries, e)
		}
	}
	return entries
}

// Winners returns the ids of the ATEs flagged as winner on the licitación.
func (db *DB) Winners(licitacionID string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var ids []string
	for _, ate := range db.ates {
		if ate.LicitacionID == licitacionID && ate.EsGanador {
			ids = append(ids, ate.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
