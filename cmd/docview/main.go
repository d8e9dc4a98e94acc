// Точка входа docview — сервис просмотра PDF-документов с входом по одноразовому коду.
package main

import "github.com/bigkaa/docview/cmd/docview/cmd"

func main() {
	cmd.Execute()
}
