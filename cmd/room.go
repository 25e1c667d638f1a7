package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Rupam798/VideoConferencing/internal/config"
	"github.com/Rupam798/VideoConferencing/internal/roomid"
	"github.com/Rupam798/VideoConferencing/internal/ui"
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage room identifiers",
}

var roomNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a room id to share with others",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{})
		if err != nil {
			return err
		}
		id := roomid.New()
		ui.PrintSuccess("Created room " + id)
		fmt.Println(ui.NewRoomInfo(id, cfg.GetRoomLink(id)).View())
		return nil
	},
}

func init() {
	roomCmd.AddCommand(roomNewCmd)
	rootCmd.AddCommand(roomCmd)
}
