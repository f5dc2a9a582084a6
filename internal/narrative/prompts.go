package narrative

import (
	"evalboard/internal/core"
	"fmt"
	"strings"
)

// previousSummaryLimit caps the previous-report summary carried in the prompt, in runes.
const previousSummaryLimit = 600

func perRecordPrompt(eval core.Evaluation) string {
	var b strings.Builder
	b.WriteString("Bir öğrenci aşağıdaki kriterlere göre öğretmeni değerlendirmiştir:\n\n")
	for i, s := range eval.Criteria.Named() {
		fmt.Fprintf(&b, "%d. %s: %d / 10\n", i+1, criterionTitles[s.Key], int(s.Value))
	}
	fmt.Fprintf(&b, "\nÖğrencinin ek yorumları: %q\n\n", eval.Comments)
	b.WriteString("Bu değerlendirmeye dayanarak öğretmen için kişiselleştirilmiş, yapıcı bir geri bildirim raporu oluştur.\n")
	b.WriteString("Güçlü yanları ve geliştirilmesi gereken alanları belirt.\n")
	b.WriteString("Raporu en fazla 3 paragraf olacak şekilde kısa tut.\n")
	return b.String()
}

// aggregatePrompt expects ordered oldest first.
func aggregatePrompt(ordered []core.Evaluation, avgs core.CriterionAverages, contextRecords int, previous *core.Report) string {
	total := len(ordered)
	latest := ordered
	if len(latest) > contextRecords {
		latest = latest[len(latest)-contextRecords:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bir öğretmen için %d öğrenci aşağıdaki ortalama puanları vermiştir:\n\n", total)
	for i, s := range avgs.Named() {
		fmt.Fprintf(&b, "%d. %s: %.1f / 10\n", i+1, criterionTitles[s.Key], s.Value)
	}

	b.WriteString("\nÖğrencilerin son yorumlarından örnekler:\n")
	offset := total - len(latest)
	for i, e := range latest {
		fmt.Fprintf(&b, "Öğrenci %d: %q\n", offset+i+1, e.Comments)
	}

	if previous != nil {
		fmt.Fprintf(&b, "\nDaha önce %d öğrenci için oluşturulan raporda belirtilen ana noktalar dikkate alınmalıdır: %s\n",
			previous.StudentCount, Summarize(previous.Narrative, previousSummaryLimit))
		b.WriteString("Bu yeni raporu oluştururken, önceki raporu göz önünde bulundurarak güncelle ve yeni bilgilerle zenginleştir.\n")
	}

	b.WriteString("\nBu değerlendirmelere dayanarak:\n")
	b.WriteString("1. Öğretmen için detaylı ve yapıcı bir geri bildirim raporu oluştur.\n")
	b.WriteString("2. Güçlü yönleri ve geliştirilmesi gereken alanları belirle.\n")
	b.WriteString("3. 100 üzerinden genel bir öğretmenlik puanı ver ve bunu raporun en başında NN/100 biçiminde belirt.\n")
	b.WriteString("4. Puanın nasıl hesaplandığını kısaca açıkla.\n")
	return b.String()
}
