package workflow

import (
	"regexp"
	"strings"
)

// Image directives are inline tags the generator emits where an illustration
// belongs: [IMAGE: description of diagram]. They are extracted into a
// separate list and rewritten to an italic textual placeholder so the prose
// stays self-describing on its own.
var imageDirectivePattern = regexp.MustCompile(`\[IMAGE:\s*([^\]]+)\]`)

// ExtractImageDirectives pulls every image directive out of chapter prose.
// It returns the rewritten prose and the ordered list of extracted
// descriptions; prose without directives is returned unchanged with an empty
// list.
func ExtractImageDirectives(content string) (string, []string) {
	images := []string{}
	rewritten := imageDirectivePattern.ReplaceAllStringFunc(content, func(match string) string {
		desc := strings.TrimSpace(imageDirectivePattern.FindStringSubmatch(match)[1])
		images = append(images, desc)
		return "*[Image: " + desc + "]*"
	})
	return rewritten, images
}
