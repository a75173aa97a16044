package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/rest"

	"github.com/webauth/webkdcd/internal/config"
	"github.com/webauth/webkdcd/internal/keyring"
	"github.com/webauth/webkdcd/internal/svc"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "webkdcd",
	Short: "webkdcd is a Web Kerberos Distribution Center",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webkdcd HTTP server",
	RunE:  runServe,
}

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Inspect or initialize the keyring file",
}

var keyringInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the keyring file if missing, or add a key if the newest has outlived its lifetime",
	RunE:  runKeyringInit,
}

var keyringShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the keys currently in the keyring",
	RunE:  runKeyringShow,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "etc/webkdcd.yaml", "path to the config file")
	rootCmd.AddCommand(serveCmd, keyringCmd)
	keyringCmd.AddCommand(keyringInitCmd, keyringShowCmd)
}

func loadConfig() (config.Config, error) {
	var c config.Config
	conf.MustLoad(configFile, &c)
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, err := svc.NewServiceContext(c)
	if err != nil {
		return fmt.Errorf("build service context: %w", err)
	}

	server := rest.MustNewServer(c.RestConf)
	defer server.Stop()
	server.AddRoute(rest.Route{
		Method:  "POST",
		Path:    "/webkdc",
		Handler: ctx.Handler.ServeHTTP,
	})

	fmt.Printf("webkdcd listening on %s:%d\n", c.Host, c.Port)
	server.Start()
	return nil
}

func runKeyringInit(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	store := keyring.NewFileStore()
	_, status, updateErr, err := keyring.AutoUpdate(store, c.Keyring.Path, true, c.Keyring.Lifetime, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("keyring init: %w", err)
	}
	if updateErr != nil {
		return fmt.Errorf("keyring init: persist: %w", updateErr)
	}
	fmt.Printf("keyring %s: status=%v\n", c.Keyring.Path, status)
	return nil
}

func runKeyringShow(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	store := keyring.NewFileStore()
	ring, err := store.Load(c.Keyring.Path)
	if err != nil {
		return fmt.Errorf("keyring show: %w", err)
	}
	for i, k := range ring.Keys() {
		fmt.Printf("%d: kind=%d created_at=%s valid_after=%s\n", i, k.Kind, k.CreatedAt.Format(time.RFC3339), k.ValidAfter.Format(time.RFC3339))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
