package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/docview/internal/client"
	"github.com/bigkaa/docview/internal/viewer"
)

var (
	apiURL    string
	tokenFile string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Клиент docview API",
}

func init() {
	defaultToken := "docview-token"
	if dir, err := os.UserConfigDir(); err == nil {
		defaultToken = filepath.Join(dir, "docview", "token")
	}
	defaultURL := os.Getenv("DV_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	clientCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "базовый URL API (DV_API_URL)")
	clientCmd.PersistentFlags().StringVar(&tokenFile, "token-file", defaultToken, "файл сохранённого токена")

	clientCmd.AddCommand(sendOtpCmd(), verifyCmd(), whoamiCmd(), listCmd(), viewCmd(), uploadCmd(), deleteCmd(), logoutCmd())
	rootCmd.AddCommand(clientCmd)
}

// newAPIClient создаёт клиент и разрешает сохранённую сессию.
func newAPIClient(ctx context.Context) (*client.Client, client.Snapshot) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c := client.New(apiURL, client.NewSession(client.FileTokenStore{Path: tokenFile}), client.Options{Logger: logger})
	return c, c.Resolve(ctx)
}

// requireCapability проверяет сессию так же, как guard маршрутов.
func requireCapability(snap client.Snapshot, need client.Capability) error {
	switch client.Guard(snap, need) {
	case client.Allow:
		return nil
	case client.RedirectDashboard:
		return errors.New("операция доступна только администратору")
	default:
		return errors.New("требуется вход: docview client send-otp и docview client verify")
	}
}

func sendOtpCmd() *cobra.Command {
	var (
		name     string
		register bool
	)
	cmd := &cobra.Command{
		Use:   "send-otp EMAIL",
		Short: "Запросить код входа",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _ := newAPIClient(cmd.Context())
			req := client.SendOTPRequest{Email: args[0], IsRegistration: register}
			if name != "" {
				req.Name = &name
			}
			msg, err := c.SendOTP(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "имя при регистрации")
	cmd.Flags().BoolVar(&register, "register", false, "регистрация нового пользователя")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify EMAIL CODE",
		Short: "Подтвердить код и войти",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _ := newAPIClient(cmd.Context())
			user, err := c.VerifyOTP(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Вход выполнен: %s (%s)\n", user.Email, user.Role)
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Показать текущего пользователя",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, snap := newAPIClient(cmd.Context())
			if err := requireCapability(snap, client.CapabilityView); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", snap.User.Email, snap.User.Role)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var opts client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Список документов",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, snap := newAPIClient(cmd.Context())
			if err := requireCapability(snap, client.CapabilityView); err != nil {
				return err
			}
			docs, err := c.ListDocuments(cmd.Context(), opts)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tCREATED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Title, d.Category, d.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.Category, "category", "", "фильтр по категории")
	cmd.Flags().StringVar(&opts.Query, "q", "", "поиск по заголовку")
	return cmd
}

func viewCmd() *cobra.Command {
	var (
		page int
		hold bool
	)
	cmd := &cobra.Command{
		Use:   "view ID",
		Short: "Открыть документ в защищённом сеансе просмотра",
		Long: "Загружает документ один раз, проверяет его и выводит состояние сеанса.\n" +
			"С --hold сеанс остаётся открытым до Ctrl+C; переходы пишутся в журнал аудита (stderr).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, snap := newAPIClient(ctx)
			if err := requireCapability(snap, client.CapabilityView); err != nil {
				return err
			}

			audit := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			ctrl := viewer.New(args[0], c, viewer.Options{
				Viewer:   snap.User.Email,
				Observer: viewer.NewLogObserver(audit),
				Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
			})
			defer ctrl.Close()

			out := cmd.OutOrStdout()
			if err := ctrl.Open(ctx); err != nil {
				if ctrl.State() != viewer.StateError {
					return err
				}
				fmt.Fprintf(out, "Состояние: %s\n", ctrl.State())
				return errors.New(ctrl.ErrorMessage())
			}
			if page > 0 {
				if err := ctrl.GoToPage(page); err != nil {
					return fmt.Errorf("страница %d: %w", page, err)
				}
			}

			data, _ := ctrl.Content()
			cur, total := ctrl.Page()
			fmt.Fprintf(out, "Состояние: %s\n", ctrl.State())
			fmt.Fprintf(out, "Просматривает: %s\n", snap.User.Email)
			fmt.Fprintf(out, "Страница: %d из %d\n", cur, total)
			fmt.Fprintf(out, "Размер: %d байт\n", len(data))
			if notice := ctrl.LockNotice(); notice != "" {
				fmt.Fprintln(out, notice)
			}

			if hold {
				fmt.Fprintln(out, "Сеанс открыт, Ctrl+C для завершения")
				<-ctx.Done()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "перейти на страницу")
	cmd.Flags().BoolVar(&hold, "hold", false, "держать сеанс открытым до Ctrl+C")
	return cmd
}

func uploadCmd() *cobra.Command {
	var (
		title, category, description string
	)
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Загрузить PDF (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snap := newAPIClient(cmd.Context())
			if err := requireCapability(snap, client.CapabilityAdmin); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if title == "" {
				title = trimExt(filepath.Base(args[0]))
			}
			req := client.UploadRequest{
				Title:    title,
				Category: category,
				FileName: filepath.Base(args[0]),
				File:     f,
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}

			doc, err := c.UploadDocument(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Загружен %s (%d байт)\n", doc.ID, doc.Size)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "заголовок (по умолчанию имя файла)")
	cmd.Flags().StringVar(&category, "category", "", "категория")
	cmd.Flags().StringVar(&description, "description", "", "описание")
	return cmd
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Удалить документ (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snap := newAPIClient(cmd.Context())
			if err := requireCapability(snap, client.CapabilityAdmin); err != nil {
				return err
			}
			if err := c.DeleteDocument(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PDF removed")
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Выйти и удалить сохранённый токен",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _ := newAPIClient(cmd.Context())
			c.Logout()
			return nil
		},
	}
}
