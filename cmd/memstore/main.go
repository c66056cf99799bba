package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/offlinemind/memstore/pkg/memstore"
	"github.com/offlinemind/memstore/pkg/props"
	"github.com/offlinemind/memstore/pkg/vector"
)

var (
	dbPath     string
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "memstore",
	Short: "CLI for the embedded graph and vector store",
	Long:  `Manage the local SQLite-backed graph and vector database used by disconnected deployments.`,
}

func openDB(ctx context.Context) (*memstore.DB, error) {
	cfg := memstore.DefaultConfig(dbPath)
	if configPath != "" {
		loaded, err := memstore.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if dbPath != "" {
			cfg.Path = dbPath
		}
	}
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		cfg.Logger = logger
	}
	return memstore.Open(ctx, cfg)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new database",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()
		fmt.Printf("Database initialized at %s\n", db.Storage().Path())
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print a health and stats report",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		report, err := db.Health().Health(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage graph nodes",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add <id> <label>",
	Short: "Create or merge a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		properties, err := parseProps(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		node, err := db.Graph().UpsertNode(cmd.Context(), args[0], args[1], properties)
		if err != nil {
			return err
		}
		return printJSON(node)
	},
}

var nodeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a node by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		node, err := db.Graph().GetNode(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(node)
	},
}

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Manage graph edges",
}

var edgeAddCmd = &cobra.Command{
	Use:   "add <source> <target> <type>",
	Short: "Create or merge an edge",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		properties, err := parseProps(cmd)
		if err != nil {
			return err
		}
		weight, _ := cmd.Flags().GetFloat64("weight")

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		edge, err := db.Graph().UpsertEdge(cmd.Context(), args[0], args[1], args[2], properties, weight)
		if err != nil {
			return err
		}
		return printJSON(edge)
	},
}

var relatedCmd = &cobra.Command{
	Use:   "related <id>",
	Short: "List nodes reachable from a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")
		types, _ := cmd.Flags().GetStringSlice("rel-type")

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		nodes, err := db.Graph().GetRelated(cmd.Context(), args[0], types, depth)
		if err != nil {
			return err
		}
		return printJSON(nodes)
	},
}

var pathsCmd = &cobra.Command{
	Use:   "paths <source> <target>",
	Short: "List directed paths between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		paths, err := db.Graph().FindPaths(cmd.Context(), args[0], args[1], depth)
		if err != nil {
			return err
		}
		return printJSON(paths)
	},
}

var centralityCmd = &cobra.Command{
	Use:   "centrality",
	Short: "Compute PageRank centrality for every node",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		scores, err := db.ComputeCentrality(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(scores)
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or restore graph snapshots",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a compressed graph snapshot to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		blob, err := db.Graph().Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], blob, 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		fmt.Printf("Snapshot written to %s (%d bytes)\n", args[0], len(blob))
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the graph with a snapshot from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Graph().RestoreSnapshot(cmd.Context(), blob); err != nil {
			return err
		}
		fmt.Println("Snapshot restored")
		return nil
	},
}

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage vector collections",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create <name> <dim>",
	Short: "Create a collection with a fixed embedding dimension",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dim, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid dimension: %w", err)
		}
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		col, err := db.Vector().CreateCollection(cmd.Context(), args[0], dim, nil)
		if err != nil {
			return err
		}
		return printJSON(col)
	},
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		cols, err := db.Vector().ListCollections(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cols)
	},
}

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage vector documents",
}

var docAddCmd = &cobra.Command{
	Use:   "add <collection>",
	Short: "Add a document with an embedding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, _ := cmd.Flags().GetString("content")
		vectorStr, _ := cmd.Flags().GetString("vector")
		id, _ := cmd.Flags().GetString("id")
		docType, _ := cmd.Flags().GetString("type")
		autoID, _ := cmd.Flags().GetBool("auto-id")

		embedding, err := parseVector(vectorStr)
		if err != nil {
			return err
		}
		if id == "" && autoID {
			id = uuid.New().String()
		}

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		ids, err := db.Vector().AddDocuments(cmd.Context(), args[0], []*vector.Document{{
			ID:        id,
			Content:   content,
			Embedding: embedding,
			DocType:   docType,
		}})
		if err != nil {
			return err
		}
		fmt.Printf("Added document %s\n", ids[0])
		return nil
	},
}

var docQueryCmd = &cobra.Command{
	Use:   "query <collection>",
	Short: "Run a top-k similarity query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		k, _ := cmd.Flags().GetInt("top-k")

		embedding, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		results, err := db.Vector().Query(cmd.Context(), args[0], embedding, k, nil)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%s  score=%.4f  %s\n", r.Document.ID, r.Score, r.Document.Content)
		}
		return nil
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>...",
	Short: "Delete documents by id",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		deleted, err := db.Vector().DeleteDocuments(cmd.Context(), args[0], args[1:])
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d document(s)\n", deleted)
		return nil
	},
}

var memoryCmd = &cobra.Command{
	Use:   "memory <user-id> <content>",
	Short: "Record a memory with topic and entity relationships",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, _ := cmd.Flags().GetStringSlice("topic")
		entities, _ := cmd.Flags().GetStringSlice("entity")

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		node, err := db.Graph().CreateMemoryWithRelationships(cmd.Context(), args[0], args[1], nil, topics, entities)
		if err != nil {
			return err
		}
		return printJSON(node)
	},
}

func parseProps(cmd *cobra.Command) (props.Map, error) {
	raw, _ := cmd.Flags().GetString("props")
	if raw == "" {
		return nil, nil
	}
	m, err := props.MapFromJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid properties JSON: %w", err)
	}
	return m, nil
}

func parseVector(s string) ([]float32, error) {
	if s == "" {
		return nil, fmt.Errorf("vector is required")
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector format: %w", err)
		}
		out = append(out, float32(val))
	}
	return out, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "memstore.db", "database file path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	nodeAddCmd.Flags().String("props", "", "properties as JSON")
	edgeAddCmd.Flags().String("props", "", "properties as JSON")
	edgeAddCmd.Flags().Float64("weight", 1.0, "edge weight")
	relatedCmd.Flags().Int("depth", 2, "max traversal depth")
	relatedCmd.Flags().StringSlice("rel-type", nil, "relationship types to follow")
	pathsCmd.Flags().Int("depth", 3, "max path length in edges")
	docAddCmd.Flags().String("content", "", "document content")
	docAddCmd.Flags().String("vector", "", "comma-separated embedding values")
	docAddCmd.Flags().String("id", "", "document id (derived from content when empty)")
	docAddCmd.Flags().String("type", "", "document type")
	docAddCmd.Flags().Bool("auto-id", false, "generate a random id")
	docQueryCmd.Flags().String("vector", "", "comma-separated embedding values")
	docQueryCmd.Flags().Int("top-k", 5, "number of results")
	memoryCmd.Flags().StringSlice("topic", nil, "related topics")
	memoryCmd.Flags().StringSlice("entity", nil, "related entities")

	nodeCmd.AddCommand(nodeAddCmd, nodeGetCmd)
	edgeCmd.AddCommand(edgeAddCmd)
	snapshotCmd.AddCommand(snapshotExportCmd, snapshotRestoreCmd)
	collectionCmd.AddCommand(collectionCreateCmd, collectionListCmd)
	docCmd.AddCommand(docAddCmd, docQueryCmd, docDeleteCmd)
	rootCmd.AddCommand(initCmd, healthCmd, nodeCmd, edgeCmd, relatedCmd, pathsCmd,
		centralityCmd, snapshotCmd, collectionCmd, docCmd, memoryCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
