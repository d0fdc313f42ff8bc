package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xcord/hub/pkg/config"
	"github.com/xcord/hub/pkg/configgen"
	"github.com/xcord/hub/pkg/ids"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/provision"
	"github.com/xcord/hub/pkg/queue"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/tier"
	"github.com/xcord/hub/pkg/types"
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage tenant instances",
}

var instanceRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request a new instance from a YAML file",
	Long: `Insert a pending instance with its billing and config rows and
queue it for provisioning. The running daemon picks it up.

Example request file:

  ownerId: 42
  domain: acme.example.com
  displayName: Acme Chat
  featureTier: video
  userCountTier: 50
  hdUpgrade: true`,
	RunE: runInstanceRequest,
}

var instanceDestroyCmd = &cobra.Command{
	Use:   "destroy INSTANCE",
	Short: "Queue an instance for destruction",
	Long: `Queue the instance (by domain or ID) for destruction. The
daemon tears down its container, network, DNS record, proxy route, and
bucket, then tombstones the worker ID and soft-deletes the record.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstanceDestroy,
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	RunE:  runInstanceList,
}

var instanceTierCmd = &cobra.Command{
	Use:   "tier INSTANCE",
	Short: "Change an instance's billing tier",
	Long: `Update the instance's billing tier and regenerate its stored
config (version bump). The instance applies the new tier on its next
container start.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstanceTier,
}

var instanceSuspendCmd = &cobra.Command{
	Use:   "suspend INSTANCE",
	Short: "Suspend a running instance",
	Long: `Queue the instance for suspension: its container stops and its
proxy route detaches, while the database, bucket, and DNS record stay.
Resume brings it back with nothing lost.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstanceSuspend,
}

var instanceResumeCmd = &cobra.Command{
	Use:   "resume INSTANCE",
	Short: "Resume a suspended instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstanceResume,
}

func init() {
	instanceCmd.AddCommand(instanceRequestCmd)
	instanceCmd.AddCommand(instanceDestroyCmd)
	instanceCmd.AddCommand(instanceListCmd)
	instanceCmd.AddCommand(instanceTierCmd)
	instanceCmd.AddCommand(instanceSuspendCmd)
	instanceCmd.AddCommand(instanceResumeCmd)
	rootCmd.AddCommand(instanceCmd)

	instanceRequestCmd.Flags().StringP("file", "f", "", "YAML request file (required)")
	_ = instanceRequestCmd.MarkFlagRequired("file")

	instanceListCmd.Flags().Bool("all", false, "Include destroyed instances")

	instanceTierCmd.Flags().String("feature", "", "Feature tier (chat, audio, video)")
	instanceTierCmd.Flags().Int("users", 0, "User count tier")
	instanceTierCmd.Flags().Bool("hd", false, "HD media upgrade")
}

// cliBootstrap loads configuration and opens the store for a one-shot
// command. Command output goes to stdout; internal logs stay on stderr
// at warn level.
func cliBootstrap(cmd *cobra.Command) (*config.Config, *storage.PostgresStore, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	log.Init(log.Config{Level: log.WarnLevel, JSONOutput: false, Output: os.Stderr})
	if err := ids.Init(cfg.WorkerID); err != nil {
		return nil, nil, fmt.Errorf("initializing ID generator: %w", err)
	}
	store, err := storage.NewPostgresStore(cmd.Context(), cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return cfg, store, nil
}

// resolveInstance accepts either a numeric ID or a live domain.
func resolveInstance(ctx context.Context, store storage.Store, ref string) (*types.ManagedInstance, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return store.GetInstance(ctx, id)
	}
	return store.GetLiveInstanceByDomain(ctx, ref)
}

func runInstanceRequest(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading request file: %w", err)
	}
	var req types.InstanceRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing request file: %w", err)
	}
	if req.OwnerID == 0 {
		return fmt.Errorf("request file must set ownerId")
	}
	if req.FeatureTier == "" {
		req.FeatureTier = types.FeatureTierChat
	}
	if req.UserCountTier == 0 {
		req.UserCountTier = 10
	}

	cfg, store, err := cliBootstrap(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()

	// Fail fast on shape problems before any row exists. The pipeline
	// re-validates; this keeps typos from leaving Failed rows behind.
	if err := provision.ValidateDomain(req.Domain, cfg.BaseDomain); err != nil {
		return err
	}
	catalog, err := tier.Load(afero.NewOsFs(), cfg.TierCatalogFile)
	if err != nil {
		return fmt.Errorf("loading tier catalog: %w", err)
	}
	if _, _, err := catalog.Resolve(req.FeatureTier, req.UserCountTier, req.HDUpgrade); err != nil {
		return err
	}

	inst := &types.ManagedInstance{
		OwnerID:     req.OwnerID,
		Domain:      req.Domain,
		DisplayName: req.DisplayName,
		Status:      types.InstanceStatusPending,
	}
	if err := store.CreateInstance(ctx, inst); err != nil {
		return err
	}
	billing := &types.InstanceBilling{
		InstanceID:    inst.ID,
		FeatureTier:   req.FeatureTier,
		UserCountTier: req.UserCountTier,
		HDUpgrade:     req.HDUpgrade,
		Status:        types.BillingStatusActive,
	}
	if err := store.CreateBilling(ctx, billing); err != nil {
		return err
	}
	cfgRow, err := configgen.NewRenderer(cfg, catalog, store).Regenerate(ctx, inst)
	if err != nil {
		return err
	}
	if err := queue.New(store).Enqueue(ctx, inst.ID, types.PipelineProvision); err != nil {
		return err
	}

	fmt.Printf("✓ Instance requested: %s (ID: %d)\n", inst.Domain, inst.ID)
	fmt.Printf("  Tier: %s / %d users (hd=%v), config version %d\n",
		billing.FeatureTier, billing.UserCountTier, billing.HDUpgrade, cfgRow.Version)
	fmt.Println("  Queued for provisioning")
	return nil
}

func runInstanceDestroy(cmd *cobra.Command, args []string) error {
	_, store, err := cliBootstrap(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()

	inst, err := resolveInstance(ctx, store, args[0])
	if err != nil {
		return err
	}
	if err := queue.New(store).Enqueue(ctx, inst.ID, types.PipelineDestroy); err != nil {
		return err
	}
	fmt.Printf("✓ Instance queued for destruction: %s (ID: %d)\n", inst.Domain, inst.ID)
	return nil
}

func runInstanceList(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	_, store, err := cliBootstrap(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	instances, err := store.ListInstances(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOMAIN\tSTATUS\tWORKER\tCREATED")
	for _, inst := range instances {
		if inst.DeletedAt != nil && !all {
			continue
		}
		workerID := "-"
		if inst.WorkerID != nil {
			workerID = strconv.FormatInt(*inst.WorkerID, 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			inst.ID, inst.Domain, inst.Status, workerID,
			inst.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runInstanceTier(cmd *cobra.Command, args []string) error {
	cfg, store, err := cliBootstrap(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()

	inst, err := resolveInstance(ctx, store, args[0])
	if err != nil {
		return err
	}
	billing, err := store.GetBilling(ctx, inst.ID)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("feature") {
		feature, _ := cmd.Flags().GetString("feature")
		billing.FeatureTier = types.FeatureTier(feature)
	}
	if cmd.Flags().Changed("users") {
		users, _ := cmd.Flags().GetInt("users")
		billing.UserCountTier = users
	}
	if cmd.Flags().Changed("hd") {
		hd, _ := cmd.Flags().GetBool("hd")
		billing.HDUpgrade = hd
	}

	catalog, err := tier.Load(afero.NewOsFs(), cfg.TierCatalogFile)
	if err != nil {
		return fmt.Errorf("loading tier catalog: %w", err)
	}
	if _, _, err := catalog.Resolve(billing.FeatureTier, billing.UserCountTier, billing.HDUpgrade); err != nil {
		return err
	}
	if err := store.UpdateBilling(ctx, billing); err != nil {
		return err
	}
	cfgRow, err := configgen.NewRenderer(cfg, catalog, store).Regenerate(ctx, inst)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Tier updated: %s → %s / %d users (hd=%v)\n",
		inst.Domain, billing.FeatureTier, billing.UserCountTier, billing.HDUpgrade)
	fmt.Printf("  Config version %d; applied on next container start\n", cfgRow.Version)
	return nil
}

func runInstanceSuspend(cmd *cobra.Command, args []string) error {
	return enqueueLifecycle(cmd, args[0], types.PipelineSuspend, "suspension")
}

func runInstanceResume(cmd *cobra.Command, args []string) error {
	return enqueueLifecycle(cmd, args[0], types.PipelineResume, "resume")
}

func enqueueLifecycle(cmd *cobra.Command, ref string, kind types.PipelineKind, noun string) error {
	_, store, err := cliBootstrap(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()

	inst, err := resolveInstance(ctx, store, ref)
	if err != nil {
		return err
	}
	if err := queue.New(store).Enqueue(ctx, inst.ID, kind); err != nil {
		return err
	}
	fmt.Printf("✓ Instance queued for %s: %s (ID: %d)\n", noun, inst.Domain, inst.ID)
	return nil
}
