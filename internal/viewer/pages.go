package viewer

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// InvalidDocumentMessage показывается, если полученные байты не разбираются как PDF.
const InvalidDocumentMessage = "Document could not be displayed"

// ErrInvalidDocument — документ не является корректным PDF.
var ErrInvalidDocument = errors.New("документ не является корректным PDF")

var disableConfigDir sync.Once

// CountPages разбирает PDF в памяти и возвращает число страниц.
func CountPages(data []byte) (int, error) {
	// pdfcpu по умолчанию создаёт каталог конфигурации в домашнем каталоге
	disableConfigDir.Do(api.DisableConfigDir)

	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: нет страниц", ErrInvalidDocument)
	}
	return n, nil
}
