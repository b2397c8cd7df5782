package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pborenstein/temoa/internal/search"
)

const timePrecision = time.Millisecond

var (
	flagSearchVault   string
	flagSearchProfile string
	flagSearchLimit   int
	flagSearchHybrid  bool
	flagSearchRerank  bool
	flagSearchExpand  bool
	flagSearchTrace   bool
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Search a vault from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer reg.Close()

		req := &search.Request{
			Query:   strings.Join(args, " "),
			Vault:   flagSearchVault,
			Profile: flagSearchProfile,
			Limit:   flagSearchLimit,
			Trace:   flagSearchTrace,
		}
		// Only explicit flags override the profile.
		if cmd.Flags().Changed("hybrid") {
			req.Hybrid = &flagSearchHybrid
		}
		if cmd.Flags().Changed("rerank") {
			req.Rerank = &flagSearchRerank
		}
		if cmd.Flags().Changed("expand") {
			req.ExpandQuery = &flagSearchExpand
		}

		resp, err := reg.Search(cmd.Context(), req)
		if err != nil {
			return err
		}

		renderResults(resp)
		return nil
	},
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	pathStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	scoreStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	tagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// renderResults prints the ranked list, styled on a terminal and plain
// otherwise.
func renderResults(resp *search.Response) {
	styled := isatty.IsTerminal(os.Stdout.Fd())

	if resp.ExpandedQuery != nil {
		fmt.Printf("query expanded: %s\n\n", *resp.ExpandedQuery)
	}

	if len(resp.Results) == 0 {
		fmt.Println("no results")
		return
	}

	for i, r := range resp.Results {
		title := r.Title
		path := r.RelativePath
		score := fmt.Sprintf("%.3f", r.FinalScore)
		if styled {
			title = titleStyle.Render(title)
			path = pathStyle.Render(path)
			score = scoreStyle.Render(score)
		}

		fmt.Printf("%2d. %s  %s\n", i+1, title, score)
		fmt.Printf("    %s", path)
		if r.IsChunkedFile {
			fmt.Printf("  [chunk %d/%d]", r.ChunkIndex+1, r.ChunkTotal)
		}
		if r.TagBoosted {
			tag := "tags: " + strings.Join(r.TagsMatched, ", ")
			if styled {
				tag = tagStyle.Render(tag)
			}
			fmt.Printf("  %s", tag)
		}
		fmt.Println()
		if r.Snippet != "" {
			fmt.Printf("    %s\n", strings.ReplaceAll(r.Snippet, "\n", " "))
		}
	}

	if resp.Trace != nil {
		fmt.Printf("\ntrace (%.1fms total):\n", resp.Trace.TotalMs)
		for _, st := range resp.Trace.Stages {
			fmt.Printf("  %-16s %4d → %-4d %.1fms\n",
				st.Name, st.InputCount, st.OutputCount, st.DurationMs)
		}
	}
}

func init() {
	searchCmd.Flags().StringVar(&flagSearchVault, "vault", "", "vault name (default: configured default)")
	searchCmd.Flags().StringVar(&flagSearchProfile, "profile", "", "search profile (default: default)")
	searchCmd.Flags().IntVar(&flagSearchLimit, "limit", 0, "maximum results (default from config)")
	searchCmd.Flags().BoolVar(&flagSearchHybrid, "hybrid", true, "combine keyword and semantic retrieval")
	searchCmd.Flags().BoolVar(&flagSearchRerank, "rerank", true, "cross-encoder reranking")
	searchCmd.Flags().BoolVar(&flagSearchExpand, "expand", false, "expand short queries")
	searchCmd.Flags().BoolVar(&flagSearchTrace, "trace", false, "print the pipeline stage trace")
	rootCmd.AddCommand(searchCmd)
}
