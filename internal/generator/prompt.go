package generator

import (
	"fmt"
	"strings"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
)

// LessonSpec is the caller-supplied description of the teaching module to
// produce. Sessions drives pricing, so it is validated up front.
type LessonSpec struct {
	Subject         string `json:"subject"`
	Grade           string `json:"grade"`
	Topic           string `json:"topic"`
	Sessions        int    `json:"sessions"`
	DurationMinutes int    `json:"duration_minutes"`
	StudentProfile  string `json:"student_profile,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// Validate checks the required fields and bounds.
func (s LessonSpec) Validate() error {
	if strings.TrimSpace(s.Subject) == "" {
		return apperr.New(apperr.Invalid, "subject is required")
	}
	if strings.TrimSpace(s.Grade) == "" {
		return apperr.New(apperr.Invalid, "grade is required")
	}
	if strings.TrimSpace(s.Topic) == "" {
		return apperr.New(apperr.Invalid, "topic is required")
	}
	if s.Sessions < 1 {
		return apperr.New(apperr.Invalid, "sessions must be at least 1")
	}
	if s.DurationMinutes < 0 {
		return apperr.New(apperr.Invalid, "duration_minutes must not be negative")
	}
	return nil
}

// BuildPrompt renders the instruction sent to the model. The output language
// and the document skeleton follow the Kurikulum Merdeka "Modul Ajar" format.
func BuildPrompt(s LessonSpec) string {
	var b strings.Builder
	b.WriteString("Anda adalah asisten guru profesional di Indonesia.\n")
	b.WriteString("Buatkan Modul Ajar lengkap sesuai format Kurikulum Merdeka dalam Bahasa Indonesia.\n\n")
	fmt.Fprintf(&b, "Mata pelajaran: %s\n", strings.TrimSpace(s.Subject))
	fmt.Fprintf(&b, "Jenjang/Kelas: %s\n", strings.TrimSpace(s.Grade))
	fmt.Fprintf(&b, "Topik: %s\n", strings.TrimSpace(s.Topic))
	fmt.Fprintf(&b, "Jumlah pertemuan: %d\n", s.Sessions)
	if s.DurationMinutes > 0 {
		fmt.Fprintf(&b, "Durasi per pertemuan: %d menit\n", s.DurationMinutes)
	}
	if p := strings.TrimSpace(s.StudentProfile); p != "" {
		fmt.Fprintf(&b, "Profil peserta didik: %s\n", p)
	}
	if n := strings.TrimSpace(s.Notes); n != "" {
		fmt.Fprintf(&b, "Catatan tambahan: %s\n", n)
	}
	b.WriteString("\nStruktur wajib:\n")
	b.WriteString("1. Informasi Umum (identitas, kompetensi awal, profil pelajar Pancasila, sarana dan prasarana, target peserta didik, model pembelajaran)\n")
	b.WriteString("2. Komponen Inti (tujuan pembelajaran, pemahaman bermakna, pertanyaan pemantik)\n")
	fmt.Fprintf(&b, "3. Kegiatan Pembelajaran per pertemuan (%d pertemuan, masing-masing pendahuluan, inti, penutup)\n", s.Sessions)
	b.WriteString("4. Asesmen (diagnostik, formatif, sumatif)\n")
	b.WriteString("5. Pengayaan dan Remedial\n")
	b.WriteString("6. Lampiran (LKPD, bahan bacaan, glosarium, daftar pustaka)\n")
	b.WriteString("\nGunakan format Markdown dengan heading yang jelas.\n")
	return b.String()
}
