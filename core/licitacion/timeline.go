package licitacion

import (
	"fmt"
	"time"

	"github.com/trezcool/licita/core"
)

// Business days counted from the publication date to each timeline deadline.
var timelineOffsets = []struct {
	col  string
	days int
}{
	{ColFechaLimiteSolicitudBases, 5},
	{ColFechaLimiteConsultas, 8},
	{ColFechaInicioPropuestas, 10},
	{ColFechaLimitePropuestas, 15},
	{ColFechaLimiteEvaluacion, 20},
}

// CalculateTimeline returns the timeline deadlines of a publication date, skipping weekends and `feriados`
// (YYYY-MM-DD dates).
func CalculateTimeline(fechaPublicacion time.Time, feriados []string) FieldSet {
	holidays := make(map[string]bool, len(feriados))
	for _, f := range feriados {
		holidays[f] = true
	}

	fields := make(FieldSet, len(timelineOffsets))
	day, counted := fechaPublicacion, 0
	for _, off := range timelineOffsets {
		for counted < off.days {
			day = day.AddDate(0, 0, 1)
			if isBusinessDay(day, holidays) {
				counted++
			}
		}
		fields[off.col] = day.Format(core.DateLayout)
	}
	return fields
}

func isBusinessDay(day time.Time, holidays map[string]bool) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !holidays[day.Format(core.DateLayout)]
}

var meses = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// formatFecha renders a YYYY-MM-DD date in long Spanish form ("2 de marzo de 2026").
func formatFecha(date string) string {
	t, err := time.Parse(core.DateLayout, date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%d de %s de %d", t.Day(), meses[t.Month()-1], t.Year())
}

// publicacionText is the call for bids the school posts on its channels.
func publicacionText(lic Licitacion, pt PublicacionTexto) string {
	fechaLimite := "[fecha pendiente]"
	if lic.FechaLimiteSolicitudBases != nil {
		fechaLimite = formatFecha(*lic.FechaLimiteSolicitudBases)
	}
	return fmt.Sprintf(
		"Con el objetivo de asesorar al equipo directivo y líderes del establecimiento "+
			"en el cambio de cultura organizacional centrada en la innovación educativa y "+
			"en el Modelo Relacional es que el %s, de la comuna de %s, "+
			"llamamos a concurso público para la contratación de servicios ATE con el "+
			"siguiente requerimiento: asesoría al equipo directivo para liderar a la escuela "+
			"hacia una cultura colaborativa, de aprendizaje profundo, con metodologías de "+
			"vanguardia y con la base en un enfoque en lo relacional.\n\n"+
			"Bases de la licitación se pueden solicitar hasta el %s al correo %s",
		pt.Escuela, pt.Comuna, fechaLimite, lic.EmailLicitacion,
	)
}
