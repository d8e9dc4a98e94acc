package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docview",
	Short: "docview: защищённый просмотр PDF-документов",
	Long: `Сервис раздачи PDF-документов авторизованным пользователям.
Вход по одноразовому коду из письма, загрузка и удаление документов администратором.
Конфигурация читается из переменных окружения DV_* и файла .env.`,
	SilenceUsage: true,
}

// Execute запускает корневую команду.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
