// Package document assembles the archival field mapping and merges it into a
// DOCX template.
package document

import (
	"strings"

	"github.com/loqalabs/loqa-oralhistory/internal/metadata"
)

// Metadata holds the raw form fields submitted with an interview recording.
type Metadata struct {
	Project        string
	Coordinator    string
	Date           string // YYYY-MM-DD
	Location       string
	Format         string
	Interviewers   string // comma separated
	Others         string
	Duration       string
	CollectedDocs  string
	ReproducedDocs string
	Notes          string
	Interviewee    string
	Summary        string
	Tags           string
}

// Field names referenced by the template.
const (
	FieldProject          = "projeto"
	FieldCoordinator      = "coordenador"
	FieldDate             = "data"
	FieldShortDate        = "data_curta"
	FieldRawDate          = "data_raw"
	FieldLocation         = "local"
	FieldFormat           = "formato"
	FieldInterviewers     = "entrevistadores"
	FieldInterviewerInits = "iniciais_entrevistadores"
	FieldOthers           = "outros"
	FieldDuration         = "duracao"
	FieldCollectedDocs    = "docs_coletados"
	FieldReproducedDocs   = "docs_reproduzidos"
	FieldNotes            = "obs"
	FieldInterviewee      = "entrevistado"
	FieldIntervieweeInits = "iniciais"
	FieldSummary          = "resumo"
	FieldTags             = "tags"
	FieldTranscript       = "conteudo_transcricao"
	FieldPreview          = "texto_previa"
)

// BuildContext returns the complete field mapping for one render. Every key
// is present even when its input is empty.
func BuildContext(meta Metadata, aggregated, preview string) map[string]string {
	return map[string]string{
		FieldProject:          meta.Project,
		FieldCoordinator:      meta.Coordinator,
		FieldDate:             metadata.LongDate(meta.Date),
		FieldShortDate:        metadata.ShortDate(meta.Date),
		FieldRawDate:          meta.Date,
		FieldLocation:         meta.Location,
		FieldFormat:           meta.Format,
		FieldInterviewers:     meta.Interviewers,
		FieldInterviewerInits: metadata.InitialsList(meta.Interviewers),
		FieldOthers:           meta.Others,
		FieldDuration:         meta.Duration,
		FieldCollectedDocs:    meta.CollectedDocs,
		FieldReproducedDocs:   meta.ReproducedDocs,
		FieldNotes:            meta.Notes,
		FieldInterviewee:      meta.Interviewee,
		FieldIntervieweeInits: metadata.Initials(meta.Interviewee),
		FieldSummary:          meta.Summary,
		FieldTags:             meta.Tags,
		FieldTranscript:       aggregated,
		FieldPreview:          preview,
	}
}

// Prompt builds the recognition hint from the interview summary and tags.
func Prompt(meta Metadata) string {
	return "Entrevista de história oral. Tema: " + strings.TrimSpace(meta.Summary) +
		". Palavras-chave: " + strings.TrimSpace(meta.Tags) + "."
}

// OutputFileName names the generated document after the interviewee.
func OutputFileName(interviewee string) string {
	name := strings.TrimSpace(interviewee)
	name = strings.NewReplacer("/", "", "\\", "", "..", "").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	if name == "" {
		return "Transcricao.docx"
	}
	return "Transcricao_" + name + ".docx"
}
