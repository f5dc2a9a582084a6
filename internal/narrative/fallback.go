package narrative

import (
	"evalboard/internal/core"
	"evalboard/internal/score"
	"fmt"
	"html"
	"strings"
)

// StrengthThreshold is the lowest average counted as a strength.
const StrengthThreshold = 7.0

// NoEvaluations is the aggregate narrative when nothing has been submitted.
const NoEvaluations = "Henüz değerlendirme bulunmamaktadır."

// ErrorMarker appears in stored narratives that record a generation error.
// Such reports are skipped when picking the previous report for context.
const ErrorMarker = "hata oluştu"

// insufficientClass marks the insufficient-data narrative.
const insufficientClass = "minimum-evaluations-warning"

var criterionTitles = map[string]string{
	"teaching":      "Ders Anlatım Kalitesi",
	"communication": "İletişim Becerisi",
	"knowledge":     "Alan Bilgisi",
	"support":       "Öğrenci Desteği",
	"management":    "Sınıf Yönetimi",
}

var criterionAreas = map[string]string{
	"teaching":      "ders anlatımı",
	"communication": "iletişim becerileri",
	"knowledge":     "alan bilgisi",
	"support":       "öğrenci desteği",
	"management":    "sınıf yönetimi",
}

// InsufficientData is the aggregate narrative for fewer than minimum records.
func InsufficientData(count, minimum int) string {
	return fmt.Sprintf(`<div class="%s">
<h3>Yetersiz Değerlendirme Sayısı</h3>
<p>Toplu değerlendirme raporu oluşturabilmek için en az %d öğrenci değerlendirmesi gereklidir.</p>
<p>Şu anda sadece %d değerlendirme bulunmaktadır.</p>
<p>%d değerlendirmeye ulaşıldığında rapor otomatik olarak oluşturulacaktır.</p>
</div>`, insufficientClass, minimum, count, minimum)
}

// IsInsufficientData reports whether text is the insufficient-data marker.
func IsInsufficientData(text string) bool {
	return strings.Contains(text, insufficientClass)
}

// IsErrorNarrative reports whether a stored narrative records a generation error.
func IsErrorNarrative(text string) bool {
	return strings.Contains(text, ErrorMarker)
}

// split partitions criterion keys into strengths and improvement areas.
func split(scores []core.NamedScore) (strengths, improvements []string) {
	for _, s := range scores {
		if s.Value >= StrengthThreshold {
			strengths = append(strengths, criterionAreas[s.Key])
		} else {
			improvements = append(improvements, criterionAreas[s.Key])
		}
	}
	return strengths, improvements
}

// FallbackPerRecord composes a per-record narrative from the raw criteria.
func FallbackPerRecord(eval core.Evaluation) string {
	named := eval.Criteria.Named()
	var sum float64
	for _, s := range named {
		sum += s.Value
	}
	strengths, improvements := split(named)

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Öğretmenin genel performansı %.1f/10 olarak değerlendirilmiştir.</p>", sum/float64(len(named)))
	if len(strengths) > 0 {
		fmt.Fprintf(&b, "<p><strong>Güçlü Yönler:</strong> Öğretmenin %s konularında güçlü olduğu görülmektedir.</p>",
			strings.Join(strengths, ", "))
	}
	if len(improvements) > 0 {
		fmt.Fprintf(&b, "<p><strong>Geliştirilmesi Gereken Alanlar:</strong> Öğretmenin %s konularında kendisini geliştirmesi önerilmektedir.</p>",
			strings.Join(improvements, ", "))
	}
	if c := strings.TrimSpace(eval.Comments); c != "" {
		fmt.Fprintf(&b, "<p><strong>Öğrenci Yorumu:</strong> \"%s\" Bu yorum dikkate alınarak öğretmenin gelişimi desteklenmelidir.</p>",
			html.EscapeString(c))
	}
	return b.String()
}

// FallbackAggregate composes the aggregate narrative from criterion averages.
// Its headline carries the score in the "NN/100" form score.Extract reads.
func FallbackAggregate(count int, avgs core.CriterionAverages) string {
	overall := score.FromAverages(avgs)
	named := avgs.Named()
	strengths, improvements := split(named)

	var b strings.Builder
	fmt.Fprintf(&b, "<h3>Öğretmen Performans Puanı: %d/100</h3>\n", overall)
	fmt.Fprintf(&b, "<p>Bu puan, %d öğrencinin 5 farklı kriterde verdiği puanların ortalaması alınarak hesaplanmıştır. Değerlendirme 10 üzerinden yapılmış ve 100'lük sisteme çevrilmiştir.</p>\n", count)

	b.WriteString("<h4>Kriterler Bazında Değerlendirme:</h4>\n<ul>\n")
	for _, s := range named {
		fmt.Fprintf(&b, "<li>%s: %.1f/10</li>\n", criterionTitles[s.Key], s.Value)
	}
	b.WriteString("</ul>\n")

	strengthText := "tüm alanlarda gelişim göstermesi"
	if len(strengths) > 0 {
		strengthText = strings.Join(strengths, ", ")
	}
	fmt.Fprintf(&b, "<h4>Öğretmenin Güçlü Yönleri:</h4>\n<p>Öğretmenin %s öne çıkmaktadır. Bu alanlarda öğrencilerin memnuniyeti yüksektir.</p>\n", strengthText)

	improvementText := "belirgin bir zayıf alanı bulunmamakta, ancak mevcut performansını sürdürmesi"
	if len(improvements) > 0 {
		improvementText = strings.Join(improvements, ", ")
	}
	fmt.Fprintf(&b, "<h4>Geliştirilmesi Gereken Alanlar:</h4>\n<p>Öğretmenin %s konularında kendisini geliştirmesi önerilmektedir.</p>\n", improvementText)

	balance := "güçlü ve gelişmeye açık yönleri dengelidir"
	switch {
	case len(strengths) > len(improvements):
		balance = "olumlu yönleri daha fazladır"
	case len(improvements) > len(strengths):
		balance = "geliştirilmesi gereken yönleri bulunmaktadır"
	}
	fmt.Fprintf(&b, "<h4>Genel Değerlendirme:</h4>\n<p>Öğretmen genel olarak %s bir performans sergilemektedir. %d öğrencinin değerlendirmesine göre, %s.</p>",
		Verdict(overall), count, balance)

	return b.String()
}

// Verdict names the performance tier for a 0-100 score.
func Verdict(overall int) string {
	switch {
	case overall >= 80:
		return "başarılı"
	case overall >= 60:
		return "orta düzeyde başarılı"
	default:
		return "gelişmeye açık"
	}
}
