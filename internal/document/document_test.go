package document

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allFields = []string{
	"projeto", "coordenador", "data", "data_curta", "data_raw", "local", "formato",
	"entrevistadores", "iniciais_entrevistadores", "outros", "duracao",
	"docs_coletados", "docs_reproduzidos", "obs", "entrevistado", "iniciais",
	"resumo", "tags", "conteudo_transcricao", "texto_previa",
}

func TestBuildContextEmptyInputKeepsEveryKey(t *testing.T) {
	fields := BuildContext(Metadata{}, "", "")
	assert.Len(t, fields, len(allFields))
	for _, key := range allFields {
		value, ok := fields[key]
		assert.True(t, ok, "missing key %q", key)
		assert.Empty(t, value, key)
	}
}

func TestBuildContextNormalizes(t *testing.T) {
	meta := Metadata{
		Project:      "Memórias do Bairro",
		Date:         "2024-03-05",
		Interviewers: "Maria Souza, João e Pereira",
		Interviewee:  "Ana Paula da Silva",
		Duration:     "01:10:00",
		Summary:      "infância",
	}
	fields := BuildContext(meta, "[00:00 - 01:00] ola\n\n", "ola")

	assert.Equal(t, "5 de março de 2024", fields[FieldDate])
	assert.Equal(t, "05/03/2024", fields[FieldShortDate])
	assert.Equal(t, "2024-03-05", fields[FieldRawDate])
	assert.Equal(t, "M.S, J.P", fields[FieldInterviewerInits])
	assert.Equal(t, "A.P.D.S", fields[FieldIntervieweeInits])
	assert.Equal(t, "Memórias do Bairro", fields[FieldProject])
	assert.Equal(t, "[00:00 - 01:00] ola\n\n", fields[FieldTranscript])
	assert.Equal(t, "ola", fields[FieldPreview])
	assert.Equal(t, "infância", fields[FieldSummary])
}

func TestBuildContextKeepsMalformedDate(t *testing.T) {
	fields := BuildContext(Metadata{Date: "março"}, "", "")
	assert.Equal(t, "março", fields[FieldDate])
	assert.Equal(t, "março", fields[FieldShortDate])
}

func TestPrompt(t *testing.T) {
	got := Prompt(Metadata{Summary: " vida no porto ", Tags: "pesca, maré"})
	assert.Equal(t, "Entrevista de história oral. Tema: vida no porto. Palavras-chave: pesca, maré.", got)
}

func TestOutputFileName(t *testing.T) {
	assert.Equal(t, "Transcricao_Ana_Paula.docx", OutputFileName("Ana Paula"))
	assert.Equal(t, "Transcricao_Ana_Paula.docx", OutputFileName("  Ana   Paula "))
	assert.Equal(t, "Transcricao.docx", OutputFileName(""))
	assert.Equal(t, "Transcricao_etcpasswd.docx", OutputFileName("../etc/passwd"))
}

func writeTemplate(t *testing.T, parts map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "template.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func readParts(t *testing.T, doc []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(doc), int64(len(doc)))
	require.NoError(t, err)
	parts := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		parts[f.Name] = string(body)
	}
	return parts
}

func TestDocxRendererMergesFields(t *testing.T) {
	path := writeTemplate(t, map[string]string{
		"[Content_Types].xml":  `<Types/>`,
		"word/document.xml":    `<w:p><w:r><w:t>{{ entrevistado }} ({{iniciais}}) {{ desconhecido }}</w:t></w:r><w:r><w:t>{{conteudo_transcricao}}</w:t></w:r></w:p>`,
		"word/header1.xml":     `<w:hdr><w:t>{{ projeto }}</w:t></w:hdr>`,
		"word/footer2.xml":     `<w:ftr><w:t>{{ data_curta }}</w:t></w:ftr>`,
		"word/styles.xml":      `<w:styles>{{ projeto }}</w:styles>`,
		"word/media/image.png": "\x89PNG",
	})

	fields := BuildContext(Metadata{
		Project:     "Rua & Memória",
		Date:        "2024-03-05",
		Interviewee: "Zé <Silva>",
	}, "linha um\nlinha dois", "")

	doc, err := NewDocxRenderer(path).Render(context.Background(), fields)
	require.NoError(t, err)
	parts := readParts(t, doc)

	assert.Equal(t,
		`<w:p><w:r><w:t xml:space="preserve">Zé &lt;Silva&gt; (Z.&lt;) </w:t></w:r><w:r><w:t xml:space="preserve">linha um</w:t><w:br/><w:t xml:space="preserve">linha dois</w:t></w:r></w:p>`,
		parts["word/document.xml"])
	assert.Equal(t, `<w:hdr><w:t xml:space="preserve">Rua &amp; Memória</w:t></w:hdr>`, parts["word/header1.xml"])
	assert.Equal(t, `<w:ftr><w:t xml:space="preserve">05/03/2024</w:t></w:ftr>`, parts["word/footer2.xml"])
	assert.Equal(t, `<w:styles>{{ projeto }}</w:styles>`, parts["word/styles.xml"])
	assert.Equal(t, "\x89PNG", parts["word/media/image.png"])
	assert.Equal(t, `<Types/>`, parts["[Content_Types].xml"])
}

func TestDocxRendererMergesPlaceholdersSplitAcrossRuns(t *testing.T) {
	cases := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "language tag between runs",
			template: `<w:p><w:r><w:t>{{ </w:t></w:r><w:r><w:rPr><w:lang w:val="pt-BR"/></w:rPr><w:t>entrevistado</w:t></w:r><w:r><w:t> }}</w:t></w:r></w:p>`,
			want:     `<w:p><w:r><w:t xml:space="preserve">Maria</w:t></w:r><w:r><w:rPr><w:lang w:val="pt-BR"/></w:rPr><w:t></w:t></w:r><w:r><w:t xml:space="preserve"></w:t></w:r></w:p>`,
		},
		{
			name:     "braces split with surrounding text",
			template: `<w:r><w:t xml:space="preserve">Nome: {</w:t></w:r><w:r><w:t>{entrev</w:t></w:r><w:r><w:t>istado}</w:t></w:r><w:r><w:t>} fim</w:t></w:r>`,
			want:     `<w:r><w:t xml:space="preserve">Nome: Maria</w:t></w:r><w:r><w:t></w:t></w:r><w:r><w:t></w:t></w:r><w:r><w:t xml:space="preserve"> fim</w:t></w:r>`,
		},
		{
			name:     "two placeholders sharing a run",
			template: `<w:r><w:t>{{ projeto</w:t></w:r><w:r><w:t> }} / {{ </w:t></w:r><w:r><w:t>entrevistado }}</w:t></w:r>`,
			want:     `<w:r><w:t xml:space="preserve">Acervo</w:t></w:r><w:r><w:t xml:space="preserve"> / Maria</w:t></w:r><w:r><w:t xml:space="preserve"></w:t></w:r>`,
		},
		{
			name:     "tab and table tags are not text",
			template: `<w:r><w:tab/><w:t>{{ projeto }}</w:t></w:r><w:tbl/>`,
			want:     `<w:r><w:tab/><w:t xml:space="preserve">Acervo</w:t></w:r><w:tbl/>`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTemplate(t, map[string]string{"word/document.xml": tc.template})
			doc, err := NewDocxRenderer(path).Render(context.Background(), map[string]string{
				"entrevistado": "Maria",
				"projeto":      "Acervo",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, readParts(t, doc)["word/document.xml"])
		})
	}
}

func TestDocxRendererLeavesPlainTextAlone(t *testing.T) {
	template := `<w:p><w:r><w:t>sem campos {</w:t></w:r><w:r><w:t>}</w:t></w:r></w:p>`
	path := writeTemplate(t, map[string]string{"word/document.xml": template})
	doc, err := NewDocxRenderer(path).Render(context.Background(), map[string]string{"projeto": "A"})
	require.NoError(t, err)
	assert.Equal(t, template, readParts(t, doc)["word/document.xml"])
}

func TestDocxRendererReadsTemplateEveryTime(t *testing.T) {
	path := writeTemplate(t, map[string]string{"word/document.xml": `<w:t>{{projeto}}</w:t>`})
	r := NewDocxRenderer(path)

	first, err := r.Render(context.Background(), map[string]string{"projeto": "A"})
	require.NoError(t, err)
	assert.Equal(t, `<w:t xml:space="preserve">A</w:t>`, readParts(t, first)["word/document.xml"])

	require.NoError(t, os.Remove(path))
	_, err = r.Render(context.Background(), map[string]string{"projeto": "A"})
	assert.ErrorIs(t, err, ErrTemplateMissing)
}

func TestDocxRendererRejectsCorruptTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := NewDocxRenderer(path).Render(context.Background(), map[string]string{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTemplateMissing)
}
